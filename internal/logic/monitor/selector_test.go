package monitor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaosloop/podwatch/internal/logic/monitor"
)

func TestSelector_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		selector monitor.Selector
		wantErr  bool
	}{
		{
			name:     "empty selector matches everything",
			selector: monitor.Selector{},
		},
		{
			name:     "label selector with namespace",
			selector: monitor.Selector{Namespace: "payments", LabelSelector: "app=web,tier in (frontend,backend)"},
		},
		{
			name:     "name pattern",
			selector: monitor.Selector{NamePattern: "web-[a-z0-9]+"},
		},
		{
			name:     "malformed label selector",
			selector: monitor.Selector{LabelSelector: "app=web,,"},
			wantErr:  true,
		},
		{
			name:     "malformed name pattern",
			selector: monitor.Selector{NamePattern: "web-("},
			wantErr:  true,
		},
		{
			name:     "malformed namespace pattern",
			selector: monitor.Selector{NamespacePattern: "[z-a]"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.selector.Validate()

			if tt.wantErr {
				require.ErrorIs(t, err, monitor.ErrInvalidSelector)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestCompiledSelector_Matches(t *testing.T) {
	t.Parallel()

	t.Run("patterns match whole names only", func(t *testing.T) {
		t.Parallel()

		compiled, err := monitor.Selector{NamePattern: "web-.*"}.Compile()
		require.NoError(t, err)

		require.True(t, compiled.Matches("default", "web-6d4b9-x2vq"))
		require.False(t, compiled.Matches("default", "xweb-6d4b9"))
		require.False(t, compiled.Matches("default", ""))
	})

	t.Run("namespace pattern filters client side", func(t *testing.T) {
		t.Parallel()

		compiled, err := monitor.Selector{NamespacePattern: "team-(red|blue)"}.Compile()
		require.NoError(t, err)

		require.True(t, compiled.Matches("team-red", "web-1"))
		require.True(t, compiled.Matches("team-blue", "web-1"))
		require.False(t, compiled.Matches("team-green", "web-1"))
		require.False(t, compiled.Matches("team-redder", "web-1"))
	})

	t.Run("empty patterns match everything", func(t *testing.T) {
		t.Parallel()

		compiled, err := monitor.Selector{Namespace: "default", LabelSelector: "app=web"}.Compile()
		require.NoError(t, err)

		require.True(t, compiled.Matches("anything", "anything"))
		require.Equal(t, "default", compiled.Namespace())
		require.Equal(t, "app=web", compiled.LabelSelector())
	})
}
