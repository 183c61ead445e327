package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunKeepsGoingAfterFailure(t *testing.T) {
	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Fn: func(context.Context) error {
			order = append(order, name)
			return err
		}}
	}
	boom := errors.New("boom")
	err := Run(context.Background(), step("server", nil), step("hub", boom), Step{Name: "empty"}, step("store", nil))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"server", "hub", "store"}, order)
}

func TestSignalContextCancel(t *testing.T) {
	ctx, cancel := SetupSignalHandler(context.Background())
	cancel()
	<-ctx.Done()
}
