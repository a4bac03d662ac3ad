package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/lsphost/internal/types"
)

func TestEmptyTableIsRejected(t *testing.T) {
	_, err := NewTaskScheduler(MaxConcurrencyTable{}, nil)
	require.Error(t, err)
}

func TestTableValidation(t *testing.T) {
	tests := []struct {
		name    string
		table   MaxConcurrencyTable
		wantErr bool
	}{
		{
			name: "valid descending",
			table: MaxConcurrencyTable{
				{Priority: types.PriorityHigh, MaxConcurrentTasks: 4},
				{Priority: types.PriorityLow, MaxConcurrentTasks: 2},
			},
		},
		{
			name:  "single entry",
			table: MaxConcurrencyTable{{Priority: types.PriorityLow, MaxConcurrentTasks: 1}},
		},
		{
			name: "ascending priorities",
			table: MaxConcurrencyTable{
				{Priority: types.PriorityLow, MaxConcurrentTasks: 2},
				{Priority: types.PriorityHigh, MaxConcurrentTasks: 4},
			},
			wantErr: true,
		},
		{
			name: "ascending caps",
			table: MaxConcurrencyTable{
				{Priority: types.PriorityHigh, MaxConcurrentTasks: 2},
				{Priority: types.PriorityLow, MaxConcurrentTasks: 4},
			},
			wantErr: true,
		},
		{
			name:    "zero cap",
			table:   MaxConcurrencyTable{{Priority: types.PriorityLow, MaxConcurrentTasks: 0}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCapAt(t *testing.T) {
	table := MaxConcurrencyTable{
		{Priority: types.PriorityHigh, MaxConcurrentTasks: 4},
		{Priority: types.PriorityLow, MaxConcurrentTasks: 2},
	}

	assert.Equal(t, 4, table.CapAt(types.PriorityUserInitiated))
	assert.Equal(t, 4, table.CapAt(types.PriorityHigh))
	assert.Equal(t, 2, table.CapAt(types.PriorityMedium))
	assert.Equal(t, 2, table.CapAt(types.PriorityLow))
	// Below every entry: the last entry's cap applies.
	assert.Equal(t, 2, table.CapAt(types.PriorityBackground))
}
