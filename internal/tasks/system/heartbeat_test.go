package system_test

import (
	"context"
	"testing"
	"time"

	"github.com/iceymoss/go-taskflow/internal/core"
	"github.com/iceymoss/go-taskflow/internal/tasks"
	"github.com/iceymoss/go-taskflow/internal/tasks/system"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat(t *testing.T) {
	_, err := tasks.GetCreator(system.Name)
	require.NoError(t, err)

	atoms, err := system.NewHeartbeatAtoms(nil)
	require.NoError(t, err)
	require.Len(t, atoms, 1)

	data := core.NewTaskContext(nil, nil)
	before := time.Now()
	snap, err := atoms[0].Run(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, core.AtomCompleted, snap.Status)

	v, ok := data.Get(system.LastBeatKey)
	require.True(t, ok)
	assert.False(t, v.(time.Time).Before(before))
	assert.Contains(t, snap.SuccessMsg, "alive at ")
}
