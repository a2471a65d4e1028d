package element

import (
	"context"
	"errors"

	"github.com/devicelab-dev/ditto-runner/pkg/core"
)

const sampleDump = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" package="com.example" content-desc="" clickable="false" enabled="true" bounds="[0,0][1080,1920]">
    <node index="0" text="Login" resource-id="com.example:id/login_button" class="android.widget.Button" package="com.example" content-desc="Sign in" clickable="true" enabled="true" bounds="[100,200][500,300]" />
    <node index="1" text="Settings" resource-id="com.example:id/settings" class="android.widget.TextView" package="com.example" content-desc="" clickable="false" enabled="true" bounds="[100,400][500,480]" />
    <node index="2" text="Hidden" resource-id="" class="android.widget.TextView" package="com.example" content-desc="" clickable="true" enabled="true" bounds="[0,0][0,0]" />
    <node index="3" text="" resource-id="com.example:id/ad_container" class="android.widget.FrameLayout" package="com.example" content-desc="" clickable="false" enabled="true" bounds="[0,1700][1080,1920]">
      <node index="0" text="Install now" resource-id="" class="android.widget.TextView" package="com.example" content-desc="" clickable="true" enabled="true" bounds="[10,1710][500,1800]" />
    </node>
  </node>
</hierarchy>`

// staticSource serves a fixed sequence of snapshots, repeating the last one.
type staticSource struct {
	snaps []*Snapshot
	calls int
	err   error
}

func (s *staticSource) CurrentSnapshot(context.Context) (*Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls
	if i >= len(s.snaps) {
		i = len(s.snaps) - 1
	}
	s.calls++
	if i < 0 {
		return nil, errors.New("no snapshot")
	}
	return s.snaps[i], nil
}

func (s *staticSource) ScreenSize(context.Context) (int, int, error) {
	return 1080, 1920, nil
}

func textElement(text string, b [4]int, clickable, enabled bool) *Element {
	return &Element{
		Class:     "android.widget.TextView",
		Text:      text,
		Visible:   true,
		Clickable: clickable,
		Enabled:   enabled,
		Bounds:    boundsOf(b),
	}
}

func boundsOf(b [4]int) core.Bounds {
	return core.Bounds{X: b[0], Y: b[1], Width: b[2], Height: b[3]}
}
