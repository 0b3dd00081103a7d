package app_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trustline/internal/app"
	"trustline/internal/domain"
)

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := app.Printer{W: &buf}
	p.Emit(context.Background(), domain.Event{Kind: domain.EventSASMismatch, Value: "2"})
	p.Emit(context.Background(), domain.Event{Kind: domain.EventBackupKeyRevoked})
	require.Equal(t, "sas-mismatch value=2\nbackup-key-revoked\n", buf.String())
}
