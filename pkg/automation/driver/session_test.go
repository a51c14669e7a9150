package driver

import (
	"context"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/herald/pkg/automation/selectors"
)

// fakeElement satisfies playwright.ElementHandle for the handful of methods
// extraction uses; everything else panics via the embedded nil interface.
type fakeElement struct {
	playwright.ElementHandle
	children map[string]playwright.ElementHandle
	text     string
	attrs    map[string]string
}

func (f *fakeElement) QuerySelector(selector string) (playwright.ElementHandle, error) {
	child, ok := f.children[selector]
	if !ok {
		return nil, nil
	}
	return child, nil
}

func (f *fakeElement) InnerText() (string, error) {
	return f.text, nil
}

func (f *fakeElement) GetAttribute(name string) (string, error) {
	return f.attrs[name], nil
}

func testRegistry(t *testing.T) *selectors.Registry {
	t.Helper()
	r, err := selectors.New(context.Background(), nil, nil)
	require.NoError(t, err)
	return r
}

func TestExtractItem(t *testing.T) {
	article := &fakeElement{
		children: map[string]playwright.ElementHandle{
			selectors.Defaults["item_user"]: &fakeElement{text: "Some Person\n@someone\n2h"},
			selectors.Defaults["item_text"]: &fakeElement{text: "hey @thisbot what do you think?"},
			`a[href*="/status/"]`:           &fakeElement{attrs: map[string]string{"href": "/someone/status/1234567890"}},
		},
	}

	m, err := extractItem(article, testRegistry(t), "https://x.com")
	require.NoError(t, err)

	assert.Equal(t, "1234567890", m.ID)
	assert.Equal(t, "Some Person", m.AuthorUsername)
	assert.Equal(t, "hey @thisbot what do you think?", m.Text)
	assert.Equal(t, "https://x.com/someone/status/1234567890", m.URL)
}

func TestExtractItemStripsHandlePrefix(t *testing.T) {
	article := &fakeElement{
		children: map[string]playwright.ElementHandle{
			selectors.Defaults["item_user"]: &fakeElement{text: "@someone\n2h"},
			selectors.Defaults["item_text"]: &fakeElement{text: "hello"},
			`a[href*="/status/"]`:           &fakeElement{attrs: map[string]string{"href": "/someone/status/42"}},
		},
	}

	m, err := extractItem(article, testRegistry(t), "https://x.com")
	require.NoError(t, err)
	assert.Equal(t, "someone", m.AuthorUsername)
}

func TestExtractItemMissingPermalink(t *testing.T) {
	article := &fakeElement{
		children: map[string]playwright.ElementHandle{
			selectors.Defaults["item_user"]: &fakeElement{text: "Some Person"},
			selectors.Defaults["item_text"]: &fakeElement{text: "hello"},
		},
	}

	_, err := extractItem(article, testRegistry(t), "https://x.com")
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	in := Config{Username: "bot"}
	cfg := in.withDefaults()

	assert.Equal(t, "https://x.com", cfg.BaseURL)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitCooldown)
	assert.Equal(t, 3, cfg.ScrollSteps)
}
