package database

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// DefaultCassandraQueryTimeout is the default timeout for Cassandra queries
const DefaultCassandraQueryTimeout = 5 * time.Second

// CassandraDB wraps the gocql Session
type CassandraDB struct {
	Session *gocql.Session
}

// CassandraConfig holds Cassandra connection configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// NewCassandraDB creates a new CassandraDB instance with configured timeouts
func NewCassandraDB(config *CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = gocql.Quorum

	if config.Timeout > 0 {
		cluster.Timeout = config.Timeout
	} else {
		cluster.Timeout = DefaultCassandraQueryTimeout
	}

	if config.Username != "" && config.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &CassandraDB{Session: session}, nil
}

// Close closes the Cassandra session
func (c *CassandraDB) Close() {
	c.Session.Close()
}
