/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carelog/ratekit/log"
)

func TestRecorder(t *testing.T) {
	recorder := NewRecorder()
	logger := recorder.With(log.String("namespace", "fetch-url"))

	logger.Info("rate limit exceeded", log.String("rate_limit_key", "user-1"))
	logger.WithLevel(log.LevelWarn).Debug("dropped")
	recorder.Errorf("redis is unavailable: %s", "timeout")

	entries := recorder.Entries()
	require.Len(t, entries, 2)

	entry, found := recorder.FindEntry("rate limit exceeded")
	require.True(t, found)
	require.Equal(t, log.LevelInfo, entry.Level)
	require.Equal(t, "fetch-url", entry.FieldString("namespace"))
	require.Equal(t, "user-1", entry.FieldString("rate_limit_key"))
	require.Empty(t, entry.FieldString("missing"))

	_, found = recorder.FindEntry("dropped")
	require.False(t, found)

	errEntries := recorder.FindAllEntriesByFilter(func(e RecordedEntry) bool { return e.Level == log.LevelError })
	require.Len(t, errEntries, 1)
	require.Equal(t, "redis is unavailable: timeout", errEntries[0].Text)

	recorder.Reset()
	require.Empty(t, recorder.Entries())
}
