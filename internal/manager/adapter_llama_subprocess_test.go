package manager

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestBinary builds the fake llama server used for subprocess tests and returns its path.
func buildTestBinary(t *testing.T) string {
	t.Helper()
	tdir := t.TempDir()
	bin := filepath.Join(tdir, "fake_llama_server")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_llama_server.go")
	cmd.Dir = "." // package dir internal/manager
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake server: %v: %s", err, string(out))
	}
	return bin
}

func TestSpawnArgs(t *testing.T) {
	a := NewLlamaSubprocessAdapter(SubprocessConfig{ContextSize: 2048, Threads: 8, ExtraArgs: []string{"--metrics"}})
	args := a.spawnArgs(GeneratorSpec{
		ModelPath:   "/m/q4.gguf",
		AdapterPath: "/m/lora.gguf",
		GPULayers:   -1,
		F16Memory:   true,
	}, 31000)
	joined := strings.Join(args, " ")
	assert.Equal(t, "-m /m/q4.gguf --host 127.0.0.1 --port 31000 -c 2048 -ngl 999 -t 8 --lora /m/lora.gguf --cache-type-k f16 --cache-type-v f16 --metrics", joined)

	// spec values win over adapter defaults; cpu placement omits -ngl
	args = a.spawnArgs(GeneratorSpec{ModelPath: "/m/base.gguf", ContextSize: 512, Threads: 2}, 1)
	assert.Equal(t, "-m /m/base.gguf --host 127.0.0.1 --port 1 -c 512 -t 2 --metrics", strings.Join(args, " "))
}

func TestSpecKey(t *testing.T) {
	assert.NotEqual(t, specKey(GeneratorSpec{ModelPath: "a"}), specKey(GeneratorSpec{ModelPath: "a", AdapterPath: "b"}))
}

func TestPickFreePort(t *testing.T) {
	p, err := pickFreePort("127.0.0.1")
	require.NoError(t, err)
	assert.Positive(t, p)
}

func TestPickPortInRangeSkipsBusy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	_, err = pickPortInRange("127.0.0.1", busy, busy)
	assert.Error(t, err)
}

func TestLockedBufferTail(t *testing.T) {
	var b lockedBuffer
	_, _ = b.Write([]byte("hello world"))
	assert.Equal(t, "world", b.Tail(5))
	assert.Equal(t, "hello world", b.Tail(100))
}

func TestSubprocessLoadEmptyModel(t *testing.T) {
	a := NewLlamaSubprocessAdapter(SubprocessConfig{})
	_, err := a.Load(testCtx(t), GeneratorSpec{})
	assert.Error(t, err)
}

func TestSubprocessMissingBinary(t *testing.T) {
	a := NewLlamaSubprocessAdapter(SubprocessConfig{Bin: filepath.Join(t.TempDir(), "nope")})
	_, err := a.Load(testCtx(t), GeneratorSpec{ModelPath: "m.gguf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start llama-server")
}

func TestSubprocessSpawnGenerateStop(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	pub := NewMemoryPublisher()
	a := NewLlamaSubprocessAdapter(SubprocessConfig{Bin: buildTestBinary(t), PortStart: 31000, PortEnd: 31050, ReadyTimeout: 10 * time.Second})
	a.setPublisher(pub)
	spec := GeneratorSpec{ModelPath: "m.gguf", AdapterPath: "lora.gguf"}

	sess, err := a.Load(testCtx(t), spec)
	require.NoError(t, err)
	pid, baseURL, ready, ok := a.getProcInfo(specKey(spec))
	require.True(t, ok)
	assert.True(t, ready)
	assert.Positive(t, pid)
	u := strings.TrimPrefix(baseURL, "http://")
	_, port, err := net.SplitHostPort(u)
	require.NoError(t, err)
	n, _ := strconv.Atoi(port)
	assert.GreaterOrEqual(t, n, 31000)
	assert.LessOrEqual(t, n, 31050)

	final, err := sess.Generate(testCtx(t), "prompt", GenerateParams{MaxTokens: 8}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Recommendation: rest with adapter", final.Content)

	// a second Load reuses the running process
	sess2, err := a.Load(testCtx(t), spec)
	require.NoError(t, err)
	pid2, _, _, _ := a.getProcInfo(specKey(spec))
	assert.Equal(t, pid, pid2)

	require.NoError(t, sess.Close())
	_, _, _, ok = a.getProcInfo(specKey(spec))
	assert.False(t, ok)
	require.NoError(t, sess2.Close())

	assert.Len(t, pub.Named(EventSpawnStart), 1)
	assert.Len(t, pub.Named(EventSpawnReady), 1)
	assert.Len(t, pub.Named(EventSpawnStop), 1)
}

func TestSubprocessEarlyExit(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	a := NewLlamaSubprocessAdapter(SubprocessConfig{Bin: buildTestBinary(t), ExtraArgs: []string{"-exit-early"}, ReadyTimeout: 5 * time.Second})
	_, err := a.Load(testCtx(t), GeneratorSpec{ModelPath: "m.gguf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load model")
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.procs)
}

func TestSubprocessStopAll(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	a := NewLlamaSubprocessAdapter(SubprocessConfig{Bin: buildTestBinary(t), ReadyTimeout: 10 * time.Second})
	for _, p := range []string{"a.gguf", "b.gguf"} {
		_, err := a.Load(testCtx(t), GeneratorSpec{ModelPath: p})
		require.NoError(t, err)
	}
	a.StopAll()
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.procs)
}
