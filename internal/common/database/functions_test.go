package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateConnectionString(t *testing.T) {
	assert.Equal(t, "", CreateConnectionString(map[string]string{}))

	assert.Equal(t,
		"host='localhost' ",
		CreateConnectionString(map[string]string{"host": "localhost"}))

	assert.Equal(t,
		`password='quoted\'value\\' `,
		CreateConnectionString(map[string]string{"password": `quoted'value\`}))
}
