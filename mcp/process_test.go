package mcp_test

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer returns a POSIX shell MCP server that answers the handshake
// and tool listing, then runs onCall for every tools/call request.
func scriptedServer(onCall string) string {
	return `while IFS= read -r line; do
  id=$(printf '%s\n' "$line" | sed -n 's/^{"jsonrpc":"2.0","id":\([0-9]*\).*/\1/p')
  [ -z "$id" ] && continue
  case "$line" in
  *'"method":"initialize"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-06-18","capabilities":{"tools":{}},"serverInfo":{"name":"tester","version":"1.0.0"}}}\n' "$id" ;;
  *'"method":"tools/list"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"run_tests","description":"Run the test suite","inputSchema":{"type":"object"}}]}}\n' "$id" ;;
  *'"method":"tools/call"'*)
    ` + onCall + ` ;;
  esac
done
`
}

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func launch(t *testing.T, script string, opts ...mcp.Option) crew.ToolSession {
	t.Helper()
	sess, err := mcp.NewLauncher(opts...).Launch(context.Background(), crew.ProcessSpec{
		Command: shell(t),
		Args:    []string{"-c", script},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestLauncher_LaunchProcess(t *testing.T) {
	t.Parallel()

	t.Run("lists tools of a spawned server", func(t *testing.T) {
		t.Parallel()
		sess := launch(t, scriptedServer(`:`))

		tools, err := sess.Tools(context.Background())
		require.NoError(t, err)
		require.Len(t, tools, 1)
		assert.Equal(t, "run_tests", tools[0].Name)
		require.NoError(t, sess.Close())
	})

	t.Run("process ignoring EOF is killed after a failed handshake", func(t *testing.T) {
		t.Parallel()
		sh := shell(t)
		start := time.Now()
		_, err := mcp.NewLauncher(
			mcp.WithHandshakeTimeout(200*time.Millisecond),
			mcp.WithStopGrace(100*time.Millisecond),
		).Launch(context.Background(), crew.ProcessSpec{
			Command: sh,
			Args:    []string{"-c", "exec sleep 30"},
		})
		var he *crew.HandshakeError
		require.ErrorAs(t, err, &he)
		assert.Contains(t, err.Error(), "no response within")
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("process exiting before the handshake reports its stderr", func(t *testing.T) {
		t.Parallel()
		sh := shell(t)
		start := time.Now()
		_, err := mcp.NewLauncher().Launch(context.Background(), crew.ProcessSpec{
			Command: sh,
			Args:    []string{"-c", "echo 'missing GEMINI_API_KEY' >&2; exit 2"},
		})
		var he *crew.HandshakeError
		require.ErrorAs(t, err, &he)
		assert.Contains(t, err.Error(), "missing GEMINI_API_KEY")
		var ee *exec.ExitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 2, ee.ExitCode())
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}

func TestSession_CallProcess(t *testing.T) {
	t.Parallel()

	t.Run("close after a timed out call kills a hung server", func(t *testing.T) {
		t.Parallel()
		sess := launch(t, scriptedServer(`sleep 30`), mcp.WithStopGrace(100*time.Millisecond))

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err := sess.Call(ctx, "run_tests", json.RawMessage(`{}`))
		var te *crew.TransportError
		require.ErrorAs(t, err, &te)

		start := time.Now()
		require.NoError(t, sess.Close())
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("server exiting mid-call fails the call with its exit status", func(t *testing.T) {
		t.Parallel()
		sess := launch(t, scriptedServer(`echo 'worker crashed' >&2; exit 3`))

		start := time.Now()
		_, err := sess.Call(context.Background(), "run_tests", json.RawMessage(`{}`))
		var te *crew.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "call run_tests", te.Op)
		var ee *exec.ExitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 3, ee.ExitCode())
		assert.Contains(t, err.Error(), "worker crashed")
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}
