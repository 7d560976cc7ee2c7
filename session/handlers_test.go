package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errX = errors.New("error x")
	errY = errors.New("error y")
)

func testHandler(name string, matches error, fired *[]string) *ErrorHandler {
	return &ErrorHandler{
		Name:    name,
		Matches: func(err error, _ *AuthInfo) bool { return errors.Is(err, matches) },
		Handle:  func(error, *AuthInfo) { *fired = append(*fired, name) },
	}
}

func TestErrorHandlerChain_Insert(t *testing.T) {
	t.Parallel()
	var fired []string
	tests := []struct {
		name      string
		build     func(c *ErrorHandlerChain) error
		wantNames []string
		wantErr   bool
		wantIsErr error
	}{
		{
			name: "push-back-order",
			build: func(c *ErrorHandlerChain) error {
				if err := c.PushBack(testHandler("a", errX, &fired)); err != nil {
					return err
				}
				return c.PushBack(testHandler("b", errY, &fired))
			},
			wantNames: []string{"a", "b"},
		},
		{
			name: "push-front",
			build: func(c *ErrorHandlerChain) error {
				if err := c.PushBack(testHandler("a", errX, &fired)); err != nil {
					return err
				}
				return c.PushFront(testHandler("b", errY, &fired))
			},
			wantNames: []string{"b", "a"},
		},
		{
			name: "insert-before",
			build: func(c *ErrorHandlerChain) error {
				if err := c.PushBack(testHandler("a", errX, &fired)); err != nil {
					return err
				}
				if err := c.PushBack(testHandler("c", errX, &fired)); err != nil {
					return err
				}
				return c.InsertBefore("c", testHandler("b", errY, &fired))
			},
			wantNames: []string{"a", "b", "c"},
		},
		{
			name: "insert-after",
			build: func(c *ErrorHandlerChain) error {
				if err := c.PushBack(testHandler("a", errX, &fired)); err != nil {
					return err
				}
				if err := c.PushBack(testHandler("c", errX, &fired)); err != nil {
					return err
				}
				return c.InsertAfter("a", testHandler("b", errY, &fired))
			},
			wantNames: []string{"a", "b", "c"},
		},
		{
			name: "insert-after-last",
			build: func(c *ErrorHandlerChain) error {
				if err := c.PushBack(testHandler("a", errX, &fired)); err != nil {
					return err
				}
				return c.InsertAfter("a", testHandler("b", errY, &fired))
			},
			wantNames: []string{"a", "b"},
		},
		{
			name: "duplicate-name",
			build: func(c *ErrorHandlerChain) error {
				if err := c.PushBack(testHandler("a", errX, &fired)); err != nil {
					return err
				}
				return c.PushBack(testHandler("a", errY, &fired))
			},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name: "insert-before-unknown",
			build: func(c *ErrorHandlerChain) error {
				return c.InsertBefore("nope", testHandler("a", errX, &fired))
			},
			wantErr:   true,
			wantIsErr: ErrHandlerNotFound,
		},
		{
			name:      "nil-handler",
			build:     func(c *ErrorHandlerChain) error { return c.PushBack(nil) },
			wantErr:   true,
			wantIsErr: ErrNilParameter,
		},
		{
			name: "missing-predicate",
			build: func(c *ErrorHandlerChain) error {
				return c.PushBack(&ErrorHandler{Name: "a", Handle: func(error, *AuthInfo) {}})
			},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c := NewErrorHandlerChain()
			err := tt.build(c)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted %q but got %q", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantNames, c.Names())
		})
	}
}

func TestErrorHandlerChain_Evaluate(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	var fired []string
	c := NewErrorHandlerChain()
	require.NoError(c.PushBack(testHandler("a", errX, &fired)))
	require.NoError(c.PushBack(testHandler("b", errY, &fired)))

	// first match wins; later handlers never see a claimed error
	assert.True(c.evaluate(errX, nil))
	assert.Equal([]string{"a"}, fired)

	// no handler matches
	fired = nil
	assert.False(c.evaluate(errors.New("unclaimed"), nil))
	assert.Empty(fired)

	// removing a handler lets a matching error fall through
	require.NoError(c.Remove("a"))
	fired = nil
	assert.False(c.evaluate(errX, nil))
	assert.Empty(fired)
}

func TestErrorHandlerChain_Remove(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	var fired []string
	c := NewErrorHandlerChain()
	require.NoError(c.PushBack(testHandler("a", errX, &fired)))

	require.NoError(c.Remove("a"))
	assert.Empty(c.Names())

	err := c.Remove("a")
	require.Error(err)
	assert.Truef(errors.Is(err, ErrHandlerNotFound), "wanted %q but got %q", ErrHandlerNotFound, err)
}

func TestErrorHandlerChain_FirstMatchStops(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	var fired []string
	c := NewErrorHandlerChain()
	require.NoError(c.PushBack(testHandler("first", errX, &fired)))
	require.NoError(c.PushBack(testHandler("second", errX, &fired)))

	assert.True(c.evaluate(errX, nil))
	assert.Equal([]string{"first"}, fired, "evaluation stops at the first matching handler")
}
