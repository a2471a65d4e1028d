package executor

import (
	"context"
	"testing"
	"time"

	"github.com/devicelab-dev/ditto-runner/pkg/driver/mock"
	"github.com/devicelab-dev/ditto-runner/pkg/flow"
)

const homeScreen = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" package="com.example" content-desc="" clickable="false" enabled="true" bounds="[0,0][1080,1920]">
    <node index="0" text="Login" resource-id="com.example:id/login_button" class="android.widget.Button" package="com.example" content-desc="Sign in" clickable="true" enabled="true" bounds="[100,200][500,300]" />
    <node index="1" text="Settings" resource-id="com.example:id/settings" class="android.widget.TextView" package="com.example" content-desc="" clickable="false" enabled="true" bounds="[100,400][500,480]" />
    <node index="2" text="Total: $42.50" resource-id="com.example:id/total" class="android.widget.TextView" package="com.example" content-desc="" clickable="false" enabled="true" bounds="[100,600][700,680]" />
    <node index="3" text="" resource-id="com.example:id/username" class="android.widget.EditText" package="com.example" content-desc="Username" clickable="true" enabled="true" bounds="[100,800][980,900]" />
  </node>
</hierarchy>`

// sleepRecorder replaces real sleeps and records each requested delay.
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newDevice(t *testing.T) *mock.Device {
	t.Helper()
	dev, err := mock.NewFromHierarchy(mock.Config{}, []byte(homeScreen))
	if err != nil {
		t.Fatalf("NewFromHierarchy() error = %v", err)
	}
	return dev
}

func parseScript(t *testing.T, src string) *flow.Script {
	t.Helper()
	script, err := flow.Parse([]byte(src), "test.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return script
}

// testConfig returns a config with fake sleeps and short element timeouts.
func testConfig(t *testing.T, rec *sleepRecorder) RunnerConfig {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Sleep = rec.sleep
	cfg.Timeout = 50 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ArtifactsDir = t.TempDir()
	return cfg
}

func runScript(t *testing.T, dev *mock.Device, cfg RunnerConfig, src string) *RunResult {
	t.Helper()
	result, err := New(dev, dev, cfg).Run(context.Background(), parseScript(t, src), Seeds{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return result
}

func actions(dev *mock.Device, kind string) []mock.Action {
	var out []mock.Action
	for _, a := range dev.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
