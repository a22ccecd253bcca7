package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ellachat/ella/config"
	"github.com/ellachat/ella/pkg/companion"
	"github.com/ellachat/ella/pkg/emotion"
	"github.com/ellachat/ella/pkg/memory"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestGlobalFlags_Overrides(t *testing.T) {
	flags := &globalFlags{appName: "ella-test", port: 9000, logLevel: "debug", debug: true}
	assert.Equal(t, map[string]interface{}{
		"app.name":    "ella-test",
		"server.port": 9000,
		"log.level":   "debug",
		"app.debug":   true,
	}, flags.overrides())

	assert.Empty(t, (&globalFlags{}).overrides())
}

func TestRootCmd_Version(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Ella - conversational companion")
	assert.Contains(t, out.String(), "Go Version:")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["chat"])
	assert.True(t, names["version"])
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

type fakeChat struct {
	messages []string
	resets   int
	profile  memory.UserProfile
	known    bool
}

func (f *fakeChat) GenerateReply(_ context.Context, _ string, message string) (companion.Result, error) {
	f.messages = append(f.messages, message)
	return companion.Result{ReplyText: "you said " + message, Emotion: emotion.Detect(message), RunningCost: 0.0002}, nil
}

func (f *fakeChat) Profile(context.Context, string) (memory.UserProfile, bool, error) {
	return f.profile, f.known, nil
}

func (f *fakeChat) ResetUser(context.Context, string) (int, error) {
	f.resets++
	return 3, nil
}

func (f *fakeChat) Stats() companion.Stats {
	return companion.Stats{RequestCount: int64(len(f.messages)), TotalUsers: 1}
}

func TestRunChat(t *testing.T) {
	svc := &fakeChat{
		profile: memory.UserProfile{Name: "Asha", Likes: []string{"tea"}},
		known:   true,
	}
	in := strings.NewReader("hello there\n\n/profile\n/stats\n/reset\n/bogus\ni love tea\n/quit\nnever sent\n")
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), svc, "Ella", "asha", in, &out))

	assert.Equal(t, []string{"hello there", "i love tea"}, svc.messages)
	assert.Equal(t, 1, svc.resets)

	text := out.String()
	assert.Contains(t, text, "ella> you said hello there")
	assert.Contains(t, text, "name: Asha")
	assert.Contains(t, text, "likes: tea")
	assert.Contains(t, text, "requests: 1")
	assert.Contains(t, text, "Forgot 3 stored turns.")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Contains(t, text, "[happy, cost $0.000200]")
	assert.Contains(t, text, "Bye!")
}

func TestRunChat_EOFEndsSession(t *testing.T) {
	svc := &fakeChat{}
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), svc, "", "u", strings.NewReader("/profile\nhi"), &out))
	assert.Equal(t, []string{"hi"}, svc.messages)
	assert.Contains(t, out.String(), "Nothing remembered yet.")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunServe_StartsAndStops(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: `+strconv.Itoa(port)+`
llm:
  api_key: sk-test
embedding:
  provider: hash
  dimensions: 32
storage:
  type: badger
  badger:
    path: `+filepath.Join(dir, "badger")+`
metrics:
  enabled: false
log:
  output: stderr
  level: error
`), 0o644))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, path, cfg) }()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/ready")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get(base + "/system/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not return after cancel")
	}
}
