package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/snipvet/internal/corpus"
)

func scored(text, sinkToken string) corpus.ScoredCandidate {
	return corpus.ScoredCandidate{
		Candidate: corpus.Candidate{Text: text, SinkToken: sinkToken},
	}
}

func TestVerifyConfirmsTaintedSink(t *testing.T) {
	v := NewVerifier()
	res := v.Verify(scored(
		"cmd = request.args['cmd']\nsubprocess.run(cmd, shell=True)",
		"subprocess.run(cmd, shell=True",
	))

	require.True(t, res.Confirmed)
	assert.Contains(t, res.Evidence, "request.")
	assert.Contains(t, res.Evidence, "shell=True")
	assert.Empty(t, res.Reason)
}

func TestVerifyNeverConfirmsWithoutSinkToken(t *testing.T) {
	v := NewVerifier()

	// The sink vanished from the trimmed text.
	res := v.Verify(scored("cmd = request.args['cmd']\nprint(cmd)", "os.system("))
	assert.False(t, res.Confirmed)
	assert.Equal(t, ReasonSinkRemoved, res.Reason)

	// An empty sink token can never be confirmed either.
	res = v.Verify(scored("os.system(request.args['c'])", ""))
	assert.False(t, res.Confirmed)
	assert.Equal(t, ReasonSinkRemoved, res.Reason)
}

func TestVerifyRejectsSanitizedWindow(t *testing.T) {
	v := NewVerifier()
	res := v.Verify(scored(
		"cmd = shlex.quote(request.args['cmd'])\nos.system(cmd)",
		"os.system(",
	))

	assert.False(t, res.Confirmed)
	assert.Equal(t, ReasonSanitizer, res.Reason)
	assert.Equal(t, "shlex.quote", res.Evidence)
}

func TestVerifyRejectsUntaintedWindow(t *testing.T) {
	v := NewVerifier()
	res := v.Verify(scored("cmd = 'ls -la'\nos.system(cmd)", "os.system("))

	assert.False(t, res.Confirmed)
	assert.Equal(t, ReasonNoTaintPath, res.Reason)
}

func TestApplyProducesSnippetRecord(t *testing.T) {
	v := NewVerifier()

	ok := v.Apply(scored("os.system(input())", "os.system("))
	assert.True(t, ok.Verified)
	assert.Empty(t, ok.RejectReason)
	assert.NotEmpty(t, ok.Evidence)

	bad := v.Apply(scored("os.system('ls')", "os.system("))
	assert.False(t, bad.Verified)
	assert.Equal(t, string(ReasonNoTaintPath), bad.RejectReason)
}
