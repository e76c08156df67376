package stream

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textDelta(s string) ContentDelta { return ContentDelta{Text: &s} }

func drain(t *testing.T, rx *Receiver) []Delta {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []Delta
	for {
		d, err := rx.Recv(ctx)
		if errors.Is(err, ErrClosed) {
			return out
		}
		require.NoError(t, err)
		out = append(out, d)
	}
}

func TestChannelPreservesSendOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("deltas arrive in send order", prop.ForAll(
		func(values []string) bool {
			tx, rx := NewChannel()
			for _, v := range values {
				tx.Send(textDelta(v))
			}
			tx.Close()
			got := drain(t, rx)
			if len(got) != len(values) {
				return false
			}
			for i, d := range got {
				cd, ok := d.(ContentDelta)
				if !ok || *cd.Text != values[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestChannelClosesAfterLastClone(t *testing.T) {
	tx, rx := NewChannel()
	clone := tx.Clone()

	tx.Send(textDelta("a"))
	tx.Close()
	assert.False(t, tx.Send(textDelta("dropped")), "closed sender must refuse sends")

	assert.True(t, clone.Send(TitleUpdated{Name: "t"}))
	clone.Close()
	clone.Close()

	got := drain(t, rx)
	require.Len(t, got, 2)
	assert.Equal(t, TitleUpdated{Name: "t"}, got[1])
	assert.False(t, clone.Clone().Send(SearchPerformed{}))
}

func TestChannelConcurrentProducers(t *testing.T) {
	tx, rx := NewChannel()
	const producers, perProducer = 4, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		sender := tx.Clone()
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			defer sender.Close()
			for i := 0; i < perProducer; i++ {
				sender.Send(textDelta(strconv.Itoa(p) + ":" + strconv.Itoa(i)))
			}
		}(p)
	}
	tx.Close()

	got := drain(t, rx)
	wg.Wait()
	require.Len(t, got, producers*perProducer)

	// each producer's own order is preserved
	last := map[string]int{}
	for _, d := range got {
		key, seq, _ := strings.Cut(*d.(ContentDelta).Text, ":")
		i, _ := strconv.Atoi(seq)
		if prev, ok := last[key]; ok {
			assert.Greater(t, i, prev)
		}
		last[key] = i
	}
}

func TestRecvHonoursContext(t *testing.T) {
	_, rx := NewChannel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rx.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
