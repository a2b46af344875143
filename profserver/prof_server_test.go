/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package profserver

import (
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carelog/ratekit/log/logtest"
	"github.com/carelog/ratekit/testutil"
)

func TestProfServer_Start(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	profServer := New(&Config{Address: "127.0.0.1:0"}, logRecorder)
	require.Nil(t, profServer.Addr())
	require.NoError(t, profServer.Listen())

	fatalErr := make(chan error, 1)
	go profServer.Start(fatalErr)
	defer func() {
		require.NoError(t, profServer.Stop(true))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	}()

	resp, err := http.Get("http://" + profServer.Addr().String() + "/debug/pprof/")
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotEmpty(t, respBody)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestProfServer_StartOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { require.NoError(t, ln.Close()) }()

	profServer := New(&Config{Address: ln.Addr().String()}, logtest.NewRecorder())
	fatalErr := make(chan error, 1)
	profServer.Start(fatalErr)
	require.Error(t, <-fatalErr)
}
