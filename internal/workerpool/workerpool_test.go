package workerpool

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildArgsWarmSetsEnvAndNoRm(t *testing.T) {
	p := &Pool{runtime: "docker"}
	cfg := RunConfig{
		Image:       "nanoclaw/worker:latest",
		Mounts:      []string{"/host/a:/workspace/group"},
		IdleTimeout: 30 * time.Minute,
	}
	args := p.buildArgs(cfg, true)

	require.NotContains(t, args, "--rm")
	require.Contains(t, args, "-v")
	require.Contains(t, args, "/host/a:/workspace/group")
	joined := strings.Join(args, " ")
	require.Contains(t, joined, "WARM_MODE=true")
	require.Contains(t, joined, "IDLE_TIMEOUT=1800")
	require.Equal(t, "nanoclaw/worker:latest", args[len(args)-1])
}

func TestBuildArgsColdSetsRm(t *testing.T) {
	p := &Pool{runtime: "docker"}
	cfg := RunConfig{Image: "nanoclaw/worker:latest"}
	args := p.buildArgs(cfg, false)

	require.Contains(t, args, "--rm")
	joined := strings.Join(args, " ")
	require.NotContains(t, joined, "WARM_MODE")
}

func TestReadFramedOutputParsesBetweenMarkers(t *testing.T) {
	input := strings.Join([]string{
		"some stray log line",
		outputStartMarker,
		`{"status":"success","result":"hi"}`,
		outputEndMarker,
	}, "\n")
	scanner := bufio.NewScanner(strings.NewReader(input))

	out, err := readFramedOutput(scanner, false, 0)
	require.NoError(t, err)
	require.Equal(t, "success", out.Status)
	require.Equal(t, "hi", out.Result)
}

func TestReadFramedOutputFallsBackToLastLineForCold(t *testing.T) {
	input := strings.Join([]string{
		"startup noise",
		"",
		`{"status":"success","result":"done"}`,
	}, "\n")
	scanner := bufio.NewScanner(strings.NewReader(input))

	out, err := readFramedOutput(scanner, true, 0)
	require.NoError(t, err)
	require.Equal(t, "done", out.Result)
}

func TestReadFramedOutputErrorsWithoutFallbackForWarm(t *testing.T) {
	input := "no markers at all\n"
	scanner := bufio.NewScanner(strings.NewReader(input))

	_, err := readFramedOutput(scanner, false, 0)
	require.Error(t, err)
}

func TestBoundedBufferKeepsOnlyTail(t *testing.T) {
	b := &boundedBuffer{limit: 5}
	_, _ = b.Write([]byte("abcdefghij"))
	require.Equal(t, "fghij", string(b.data))
	require.Equal(t, "ghij", b.tail(4))
}

func TestStateStrings(t *testing.T) {
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "busy", Busy.String())
	require.Equal(t, "dead", Dead.String())
}
