package security_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/security"
)

var testArgon = config.ArgonConfig{
	MemoryKB:    8 * 1024,
	Time:        1,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

func TestCodeHasherRoundTrip(t *testing.T) {
	hasher := security.NewCodeHasher(testArgon)
	hash, err := hasher.Hash("042917")
	require.NoError(t, err)
	assert.Regexp(t, `^\$argon2id\$v=19\$m=8192,t=1,p=1\$[A-Za-z0-9+/]+\$[A-Za-z0-9+/]+$`, hash)

	ok, err := hasher.Verify("042917", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("042918", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := hasher.Hash("042917")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salt must differ per hash")

	_, err = hasher.Hash("")
	assert.Error(t, err)
}

func TestVerifyUsesCostStoredInHash(t *testing.T) {
	hash, err := security.HashOTP("555000", testArgon)
	require.NoError(t, err)

	cheaper := security.NewCodeHasher(config.ArgonConfig{MemoryKB: 8, Time: 1, Parallelism: 1, SaltLen: 8, KeyLen: 16})
	ok, err := cheaper.Verify("555000", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = security.VerifyOTP("555000", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=16$m=64,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=64,t=1,p=0$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=64,t=1,p=1$$aGFzaA",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
	} {
		_, err := security.VerifyOTP("123456", encoded)
		assert.ErrorIs(t, err, security.ErrInvalidHash, "hash %q", encoded)
	}
}

func TestGenerateOTP(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		code, err := security.GenerateOTP(security.OTPDigits)
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9]{6}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 40, "codes look non-random")

	_, err := security.GenerateOTP(0)
	assert.Error(t, err)
	_, err = security.GenerateOTP(13)
	assert.Error(t, err)
}
