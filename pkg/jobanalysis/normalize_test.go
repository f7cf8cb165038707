package jobanalysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringListAcceptsArray(t *testing.T) {
	var l stringList
	require.NoError(t, json.Unmarshal([]byte(`["- one", "  2) two  ", "", "three"]`), &l))
	require.Equal(t, stringList{"one", "two", "three"}, l)
}

func TestStringListAcceptsNewlineString(t *testing.T) {
	var l stringList
	in := "- Strong Go background\n• Kubernetes experience\n\n1. CI/CD ownership\n"
	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &l))
	require.Equal(t, stringList{"Strong Go background", "Kubernetes experience", "CI/CD ownership"}, l)
}

func TestStringListRejectsOtherShapes(t *testing.T) {
	var l stringList
	require.Error(t, json.Unmarshal([]byte(`{"a":1}`), &l))
	require.Error(t, json.Unmarshal([]byte(`42`), &l))
}

func TestCleanLines(t *testing.T) {
	in := []string{" * bullet ", "3) numbered", "plain", "   ", "** double"}
	require.Equal(t, []string{"bullet", "numbered", "plain", "double"}, cleanLines(in))
}
