package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

type fakeBroker struct{ closed bool }

func (f *fakeBroker) IsClosed() bool { return f.closed }

func TestReady_AllHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	svc := NewService(NewPostgresChecker(db), NewRabbitMQChecker(&fakeBroker{}))
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestReady_PostgresDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	svc := NewService(NewPostgresChecker(db), NewRabbitMQChecker(&fakeBroker{}))
	err = svc.Ready(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "postgres:") {
		t.Fatalf("expected postgres failure, got %v", err)
	}
}

func TestReady_BrokerClosed(t *testing.T) {
	svc := NewService(NewRabbitMQChecker(&fakeBroker{closed: true}))
	if err := svc.Ready(context.Background()); !errors.Is(err, ErrBrokerDisconnected) {
		t.Fatalf("expected ErrBrokerDisconnected, got %v", err)
	}
}
