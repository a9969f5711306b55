package notify

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "it’s fine", sanitize(`it's fine\`))

	long := sanitize(strings.Repeat("ạ", 300))
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.Equal(t, 259, len([]rune(long)))
}

func TestCommand(t *testing.T) {
	cmd := command("linux", "Title", "Body")
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"notify-send", "--app-name=MuaTool", "Title", "Body"}, cmd.Args)

	cmd = command("darwin", "T", "B")
	require.NotNil(t, cmd)
	assert.Contains(t, cmd.Args[2], `display notification "B" with title "T"`)

	assert.Nil(t, command("plan9", "T", "B"))
}

func TestNotifierSuppressesRepeats(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	n := NewNotifier(time.Hour)
	n.send = func(title, body string) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, body)
	}
	var observed []string
	n.Observe = func(_, body string) { observed = append(observed, body) }

	n.Notify("Thông báo", "a")
	n.Notify("Thông báo", "a")
	n.Notify("Thông báo", "b")

	assert.Equal(t, []string{"a", "b"}, observed)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNotifierZeroWindowNeverSuppresses(t *testing.T) {
	n := NewNotifier(0)
	n.send = func(string, string) {}
	count := 0
	n.Observe = func(string, string) { count++ }

	n.Notify("t", "x")
	n.Notify("t", "x")
	assert.Equal(t, 2, count)
}
