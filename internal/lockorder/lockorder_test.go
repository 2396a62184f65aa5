package lockorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_StealSequenceIsClean(t *testing.T) {
	v := NewVerifier()

	// home miss
	v.Acquired(1, Shard(3))
	v.Releasing(1, Shard(3))

	// steal from shard 0 into shard 3
	v.Acquired(1, Global())
	v.Acquired(1, Shard(0))
	v.Acquired(1, Shard(3))
	v.Releasing(1, Shard(3))
	v.Releasing(1, Shard(0))
	v.Releasing(1, Global())

	v.Acquired(1, Buffer(5))

	assert.Empty(t, v.Violations())
	assert.Empty(t, v.Outstanding())
	assert.Equal(t, 2, v.MaxShardsHeld())
}

func TestVerifier_Rules(t *testing.T) {
	tests := []struct {
		name   string
		steps  func(v *Verifier)
		reason string
	}{
		{
			name: "sleeplock under shard lock",
			steps: func(v *Verifier) {
				v.Acquired(1, Shard(0))
				v.Acquired(1, Buffer(0))
			},
			reason: "sleeplock acquired while holding spin locks",
		},
		{
			name: "sleeplock released under shard lock",
			steps: func(v *Verifier) {
				v.Acquired(1, Shard(0))
				v.Releasing(1, Buffer(0))
			},
			reason: "sleeplock released while holding spin locks",
		},
		{
			name: "global after shard",
			steps: func(v *Verifier) {
				v.Acquired(1, Shard(0))
				v.Acquired(1, Global())
			},
			reason: "global lock acquired while holding shard locks",
		},
		{
			name: "two shards without global",
			steps: func(v *Verifier) {
				v.Acquired(1, Shard(0))
				v.Acquired(1, Shard(1))
			},
			reason: "second shard lock without the global lock",
		},
		{
			name: "three shards",
			steps: func(v *Verifier) {
				v.Acquired(1, Global())
				v.Acquired(1, Shard(0))
				v.Acquired(1, Shard(1))
				v.Acquired(1, Shard(2))
			},
			reason: "more than two shard locks held",
		},
		{
			name: "same shard twice",
			steps: func(v *Verifier) {
				v.Acquired(1, Global())
				v.Acquired(1, Shard(0))
				v.Acquired(1, Shard(0))
			},
			reason: "shard lock acquired twice",
		},
		{
			name: "visited released before home",
			steps: func(v *Verifier) {
				v.Acquired(1, Global())
				v.Acquired(1, Shard(0))
				v.Acquired(1, Shard(1))
				v.Releasing(1, Shard(0))
			},
			reason: "locks released out of order",
		},
		{
			name: "release unheld",
			steps: func(v *Verifier) {
				v.Releasing(1, Shard(0))
			},
			reason: "release of a lock that is not held",
		},
		{
			name: "two owners",
			steps: func(v *Verifier) {
				v.Acquired(1, Global())
				v.Acquired(2, Global())
			},
			reason: "lock already held by op 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier()
			tt.steps(v)

			violations := v.Violations()
			require.NotEmpty(t, violations)
			assert.Equal(t, tt.reason, violations[0].Reason)
			assert.Contains(t, violations[0].Error(), tt.reason)
		})
	}
}

func TestVerifier_Outstanding(t *testing.T) {
	v := NewVerifier()
	v.Acquired(4, Shard(2))
	v.Acquired(9, Global())

	out := v.Outstanding()
	assert.Equal(t, []Lock{Shard(2)}, out[4])
	assert.Equal(t, []Lock{Global()}, out[9])

	v.Releasing(4, Shard(2))
	v.Releasing(9, Global())
	assert.Empty(t, v.Outstanding())
	assert.Empty(t, v.Violations())
}

func TestLock_String(t *testing.T) {
	assert.Equal(t, "global", Global().String())
	assert.Equal(t, "shard[3]", Shard(3).String())
	assert.Equal(t, "buffer[7]", Buffer(7).String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
