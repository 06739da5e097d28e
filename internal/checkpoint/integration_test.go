package checkpoint

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/bgwork/internal/testutil"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	db *sql.DB
}

func TestPostgresStoreSuite(t *testing.T) {
	s := new(PostgresStoreTestSuite)
	db, err := sql.Open("pgx", testutil.GetPostgresDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s.db = db
	suite.Run(t, s)
}

func (s *PostgresStoreTestSuite) SetupTest() {
	_, err := s.db.Exec("DROP TABLE IF EXISTS " + DefaultTable)
	s.Require().NoError(err)
}

func (s *PostgresStoreTestSuite) TestStore() {
	store, err := NewSQLStore(context.Background(), s.db, Postgres, "")
	s.Require().NoError(err)
	exerciseStore(s.T(), store)
}

type MySQLStoreTestSuite struct {
	suite.Suite
	db *sql.DB
}

func TestMySQLStoreSuite(t *testing.T) {
	s := new(MySQLStoreTestSuite)
	db, err := sql.Open("mysql", testutil.GetMySQLDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s.db = db
	suite.Run(t, s)
}

func (s *MySQLStoreTestSuite) SetupTest() {
	_, err := s.db.Exec("DROP TABLE IF EXISTS " + DefaultTable)
	s.Require().NoError(err)
}

func (s *MySQLStoreTestSuite) TestStore() {
	store, err := NewSQLStore(context.Background(), s.db, MySQL, "")
	s.Require().NoError(err)
	exerciseStore(s.T(), store)
}

type MongoStoreTestSuite struct {
	suite.Suite
	client *mongo.Client
}

func TestMongoStoreSuite(t *testing.T) {
	s := new(MongoStoreTestSuite)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(testutil.GetMongoURI(t)))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	s.client = client
	suite.Run(t, s)
}

func (s *MongoStoreTestSuite) SetupTest() {
	s.Require().NoError(s.client.Database("bgwork_test").Drop(context.Background()))
}

func (s *MongoStoreTestSuite) TestStore() {
	exerciseStore(s.T(), NewMongoStore(s.client, "bgwork_test", ""))
}

type RedisStoreTestSuite struct {
	suite.Suite
	client *redis.Client
}

func TestRedisStoreSuite(t *testing.T) {
	s := new(RedisStoreTestSuite)
	s.client = redis.NewClient(&redis.Options{Addr: testutil.GetRedisAddress(t)})
	t.Cleanup(func() { _ = s.client.Close() })
	require.NoError(t, s.client.Ping(context.Background()).Err())
	suite.Run(t, s)
}

func (s *RedisStoreTestSuite) SetupTest() {
	s.Require().NoError(s.client.FlushDB(context.Background()).Err())
}

func (s *RedisStoreTestSuite) TestStore() {
	exerciseStore(s.T(), NewRedisStore(s.client, "bgwork:test:"))
}
