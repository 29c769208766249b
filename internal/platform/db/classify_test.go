package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no rows", fmt.Errorf("get patient: %w", pgx.ErrNoRows), false},
		{"record not found", gorm.ErrRecordNotFound, false},
		{"pg syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pg admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"pg auth failure", &pgconn.PgError{Code: "28P01"}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"mysql gone away", &mysql.MySQLError{Number: 2006}, true},
		{"dial error", fmt.Errorf("acquire: %w", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}), true},
		{"pg connect error", &pgconn.ConnectError{Config: &pgconn.Config{}}, true},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"mysql invalid conn", mysql.ErrInvalidConn, true},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"deadline", context.DeadlineExceeded, true},
		{"unknown stage code", fmt.Errorf("patient CRO000001: %w", errors.New("unknown stage code 9")), false},
		{"scan failure", fmt.Errorf("scan patient: %w", errors.New("can't scan into dest[3]: cannot scan NULL into *string")), false},
		{"plain error", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectivityError(tt.err); got != tt.want {
				t.Errorf("IsConnectivityError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("expected pg 23505 to be a unique violation")
	}
	if !IsUniqueViolation(&mysql.MySQLError{Number: 1062}) {
		t.Error("expected mysql 1062 to be a unique violation")
	}
	if !IsUniqueViolation(gorm.ErrDuplicatedKey) {
		t.Error("expected gorm duplicated key to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
}
