package integration

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	postgresImage = "postgres:13-alpine"
	mysqlImage    = "mysql:8.0"
)

// TestDBInstance holds one containerized database used by a test.
type TestDBInstance struct {
	Container testcontainers.Container
	DSN       string
	Dialect   string
	DB        *gorm.DB
	Host      string
	Port      nat.Port
	Username  string
	Password  string
	DBName    string
}

func mustPortInt(t *testing.T, port nat.Port) int {
	t.Helper()
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Failed to convert port %s to int: %v", port.Port(), err)
	}
	return p
}

func startPostgresContainer(ctx context.Context, t *testing.T) *TestDBInstance {
	t.Helper()
	dbName := "analytics"
	dbUser := "testpguser"
	dbPassword := "testpgpass"

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       dbName,
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %s", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get postgres container host: %s", err)
	}
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port for postgres: %s", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=10",
		host, mappedPort.Port(), dbUser, dbPassword, dbName)

	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect to test postgres instance: %s", err)
	}

	t.Logf("PostgreSQL container started. Host: %s, Port: %s", host, mappedPort.Port())

	return &TestDBInstance{
		Container: container,
		DSN:       dsn,
		Dialect:   "postgres",
		DB:        gormDB,
		Host:      host,
		Port:      mappedPort,
		Username:  dbUser,
		Password:  dbPassword,
		DBName:    dbName,
	}
}

func startMySQLContainer(ctx context.Context, t *testing.T) *TestDBInstance {
	t.Helper()
	dbName := "opendental"
	dbUser := "testmysqluser"
	dbPassword := "testmysqlpass"

	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      dbName,
			"MYSQL_USER":          dbUser,
			"MYSQL_PASSWORD":      dbPassword,
			"MYSQL_ROOT_PASSWORD": "integration-root-pw",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").
			WithStartupTimeout(120 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start mysql container: %s", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mysql container host: %s", err)
	}
	mappedPort, err := container.MappedPort(ctx, "3306/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get mapped port for mysql: %s", err)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=20s",
		dbUser, dbPassword, host, mappedPort.Port(), dbName)

	var gormDB *gorm.DB
	var gormErr error
	for i := 0; i < 10; i++ {
		gormDB, gormErr = gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if gormErr == nil {
			sqlDB, dbErr := gormDB.DB()
			if dbErr == nil {
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				pingErr := sqlDB.PingContext(pingCtx)
				cancel()
				if pingErr == nil {
					break
				}
				gormErr = fmt.Errorf("ping failed: %w", pingErr)
			} else {
				gormErr = fmt.Errorf("failed to get underlying sql.DB: %w", dbErr)
			}
		}
		if i < 9 {
			t.Logf("MySQL connection attempt %d failed: %v. Retrying in 2s...", i+1, gormErr)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				_ = container.Terminate(ctx)
				t.Fatalf("Context cancelled while retrying MySQL connection: %v", ctx.Err())
			}
		}
	}
	if gormErr != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect to test mysql instance after retries: %s", gormErr)
	}

	t.Logf("MySQL container started. Host: %s, Port: %s", host, mappedPort.Port())

	return &TestDBInstance{
		Container: container,
		DSN:       dsn,
		Dialect:   "mysql",
		DB:        gormDB,
		Host:      host,
		Port:      mappedPort,
		Username:  dbUser,
		Password:  dbPassword,
		DBName:    dbName,
	}
}

func stopContainer(ctx context.Context, t *testing.T, instance *TestDBInstance) {
	t.Helper()
	if instance == nil {
		return
	}
	if instance.DB != nil {
		if sqlDB, _ := instance.DB.DB(); sqlDB != nil {
			if err := sqlDB.Close(); err != nil {
				t.Logf("Warning: error closing GORM DB connection for %s: %v", instance.Dialect, err)
			}
		}
	}
	if instance.Container != nil {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		if err := instance.Container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container for %s: %s", instance.Dialect, err)
		}
	}
}

func execAll(t *testing.T, db *gorm.DB, statements ...string) {
	t.Helper()
	for _, s := range statements {
		if err := db.Exec(s).Error; err != nil {
			t.Fatalf("Failed to execute statement %q: %v", s, err)
		}
	}
}
