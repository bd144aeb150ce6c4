package rediskeys

import "testing"

func TestLockKeyStripsExistingPrefix(t *testing.T) {
	tests := []struct {
		prefix, id, want string
	}{
		{"translation", "u1", "lock:translation:u1"},
		{"lock:translation", "u1", "lock:translation:u1"},
		{"lock:lock:batch", "send-reminders", "lock:batch:send-reminders"},
		{"reminder", "abc", "lock:reminder:abc"},
	}
	for _, tt := range tests {
		if got := LockKey(tt.prefix, tt.id); got != tt.want {
			t.Errorf("LockKey(%q, %q) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}

func TestCacheKeyFormats(t *testing.T) {
	checks := map[string]string{
		DocKey("u1", "d1"):        "doc:u1:d1",
		DocListKey("u1", 20, 40):  "docs:list:u1:20:40",
		UserKey("u1"):             "user:u1",
		DocsTagKey("u1"):          "tag:docs:u1",
		JobStatusKey("j1"):        "job:j1",
		JobEventsChannel("j1"):    "job_events:j1",
		WorkersKey("translation"): "workers:translation",
	}
	for got, want := range checks {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
