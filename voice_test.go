package main

import (
	"testing"

	"github.com/leeineian/hibiki/sys"
)

func TestAudioCacheDirHonorsConfig(t *testing.T) {
	old := sys.GlobalConfig
	defer func() { sys.GlobalConfig = old }()

	sys.GlobalConfig = nil
	if got := audioCacheDir(); got != defaultAudioCacheDir {
		t.Errorf("default cache dir = %q, want %q", got, defaultAudioCacheDir)
	}

	sys.GlobalConfig = &sys.Config{CacheDir: "/tmp/hibiki-cache"}
	if got := audioCacheDir(); got != "/tmp/hibiki-cache" {
		t.Errorf("configured cache dir = %q", got)
	}
}
