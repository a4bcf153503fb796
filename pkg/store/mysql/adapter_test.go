package mysql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "empty", url: "", wantErr: true},
		{name: "malformed", url: "user:pass@tcp(localhost:3306", wantErr: true},
		{name: "adds parseTime", url: "user:pass@tcp(localhost:3306)/books", want: "parseTime=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeDSN(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeDSN() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(got, tt.want) {
				t.Errorf("normalizeDSN() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestNewMySQLAdapter_InvalidURL(t *testing.T) {
	if _, err := NewMySQLAdapter(Config{}, nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestAdapter_Lifecycle(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectPing()
	mock.ExpectPing()
	mock.ExpectClose()

	a, err := newAdapter(db, Config{MaxOpenConns: 4, QueryTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("newAdapter() error = %v", err)
	}
	if a.Store() == nil || a.DB() != db {
		t.Fatal("adapter not wired")
	}
	if got := db.Stats().MaxOpenConnections; got != 4 {
		t.Errorf("MaxOpenConnections = %d, want 4", got)
	}
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAdapter_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	refused := errors.New("connection refused")
	mock.ExpectPing().WillReturnError(refused)
	mock.ExpectClose()

	if _, err := newAdapter(db, Config{}, nil); !errors.Is(err, refused) {
		t.Errorf("newAdapter() error = %v, want %v", err, refused)
	}
}
