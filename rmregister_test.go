package goxa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_resource_manager_registry(t *testing.T) {
	registry := NewResourceManagerRegistry()
	assert.Nil(t, registry.Register("rm1", newMockConnector(newMockXAResource("rm1"))))
	assert.Nil(t, registry.Register("rm2", newMockConnector(newMockXAResource("rm2"))))
	assert.Nil(t, registry.Register("rm3", newMockConnector(newMockXAResource("rm3"))))
	assert.NotNil(t, registry.Register("rm2", newMockConnector(newMockXAResource("rm2"))))
	assert.NotNil(t, registry.Register("", newMockConnector(newMockXAResource(""))))
	assert.Equal(t, []string{"rm1", "rm2", "rm3"}, registry.Names())

	assert.True(t, registry.Deregister("rm2"))
	assert.False(t, registry.Deregister("rm2"))
	assert.Equal(t, []string{"rm1", "rm3"}, registry.Names())

	_, err := registry.Connector("rm2")
	assert.NotNil(t, err)
	connector, err := registry.Connector("rm3")
	assert.Nil(t, err)
	assert.NotNil(t, connector)

	names := registry.Names()
	names[0] = "tampered"
	assert.Equal(t, []string{"rm1", "rm3"}, registry.Names())
}
