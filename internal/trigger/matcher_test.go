package trigger

import (
	"testing"

	"github.com/rendis/autoflow/internal/metrics"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileWorkflow(cfg map[string]any) *schema.Workflow {
	return &schema.Workflow{ID: "wf", TriggerType: schema.TriggerFileEvent, TriggerConfig: cfg, IsActive: true}
}

func TestCheckTriggerConditions_EmptyConfigMatches(t *testing.T) {
	for _, tt := range []schema.TriggerType{schema.TriggerFileEvent, schema.TriggerAPI, schema.TriggerManual, schema.TriggerSchedule, "BOGUS"} {
		wf := &schema.Workflow{ID: "wf", TriggerType: tt}
		assert.True(t, CheckTriggerConditions(wf, Event{"eventType": "anything"}), tt)
	}
}

func TestCheckTriggerConditions_ManualAndScheduleAlwaysMatch(t *testing.T) {
	cfg := map[string]any{"type": "interval", "minutes": 5}
	assert.True(t, CheckTriggerConditions(&schema.Workflow{TriggerType: schema.TriggerManual, TriggerConfig: cfg}, nil))
	assert.True(t, CheckTriggerConditions(&schema.Workflow{TriggerType: schema.TriggerSchedule, TriggerConfig: cfg}, nil))
}

func TestCheckTriggerConditions_UnknownTypeWithConfig(t *testing.T) {
	wf := &schema.Workflow{TriggerType: "WEBHOOK", TriggerConfig: map[string]any{"x": 1}}
	assert.False(t, CheckTriggerConditions(wf, Event{}))
}

func TestCheckTriggerConditions_FileEvent(t *testing.T) {
	wf := fileWorkflow(map[string]any{
		"eventTypes":     []any{"created", "modified"},
		"pathPatterns":   []any{"/inbox/", "/data/**/*.csv"},
		"fileExtensions": []any{".CSV", "json"},
	})

	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{"substring pattern", Event{"eventType": "created", "filePath": "/home/u/inbox/report.csv"}, true},
		{"double star glob", Event{"eventType": "modified", "filePath": "/data/2024/q1/sales.csv"}, true},
		{"json extension", Event{"eventType": "created", "filePath": "/inbox/a.JSON"}, true},
		{"wrong event type", Event{"eventType": "deleted", "filePath": "/inbox/a.csv"}, false},
		{"path outside patterns", Event{"eventType": "created", "filePath": "/tmp/a.csv"}, false},
		{"wrong extension", Event{"eventType": "created", "filePath": "/inbox/a.txt"}, false},
		{"no extension", Event{"eventType": "created", "filePath": "/inbox/README"}, false},
		{"missing fields", Event{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CheckTriggerConditions(wf, tc.event))
		})
	}
}

func TestCheckTriggerConditions_SingleCriterion(t *testing.T) {
	onlyExt := fileWorkflow(map[string]any{"fileExtensions": []string{"pdf"}})
	assert.True(t, CheckTriggerConditions(onlyExt, Event{"eventType": "whatever", "filePath": "x/y.pdf"}))
	assert.False(t, CheckTriggerConditions(onlyExt, Event{"filePath": "x/y.pdf.bak"}))

	onlyGlob := fileWorkflow(map[string]any{"pathPatterns": []any{"/in/*.txt"}})
	assert.True(t, CheckTriggerConditions(onlyGlob, Event{"filePath": "/in/a.txt"}))
	assert.False(t, CheckTriggerConditions(onlyGlob, Event{"filePath": "/in/sub/a.txt"}))

	backslashes := fileWorkflow(map[string]any{"pathPatterns": []any{"C:/drop/**/*.xml"}})
	assert.True(t, CheckTriggerConditions(backslashes, Event{"filePath": `C:\drop\a\b.xml`}))
}

func TestCheckTriggerConditions_DotfileHasNoExtension(t *testing.T) {
	wf := fileWorkflow(map[string]any{"fileExtensions": []any{"bashrc"}})
	assert.False(t, CheckTriggerConditions(wf, Event{"filePath": "/x/.bashrc"}))
	assert.True(t, CheckTriggerConditions(wf, Event{"filePath": "/x/.profile.bashrc"}))

	jsonOnly := fileWorkflow(map[string]any{"fileExtensions": []any{"json"}})
	assert.True(t, CheckTriggerConditions(jsonOnly, Event{"filePath": "/x/.env.json"}))
}

func TestFileExt(t *testing.T) {
	cases := map[string]string{
		"/a/b.TXT":          "txt",
		"/a/.bashrc":        "",
		"/a/..hidden":       "",
		"/a/.env.json":      "json",
		"/a/archive.tar.gz": "gz",
		"/a/README":         "",
		"/a.dir/file":       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, fileExt(in), in)
	}
}

func TestCheckTriggerConditions_API(t *testing.T) {
	wf := &schema.Workflow{TriggerType: schema.TriggerAPI, TriggerConfig: map[string]any{"endpoint": "/hooks/build", "method": "post"}}

	assert.True(t, CheckTriggerConditions(wf, Event{"endpoint": "/hooks/build", "method": "POST"}))
	assert.False(t, CheckTriggerConditions(wf, Event{"endpoint": "/hooks/build", "method": "GET"}))
	assert.False(t, CheckTriggerConditions(wf, Event{"endpoint": "/hooks/other", "method": "POST"}))

	endpointOnly := &schema.Workflow{TriggerType: schema.TriggerAPI, TriggerConfig: map[string]any{"endpoint": "/x"}}
	assert.True(t, CheckTriggerConditions(endpointOnly, Event{"endpoint": "/x", "method": "DELETE"}))
}

func TestCheckTriggerConditions_MalformedConfigFailsClosed(t *testing.T) {
	assert.False(t, CheckTriggerConditions(fileWorkflow(map[string]any{"eventTypes": 42}), Event{"eventType": "created"}))
	assert.False(t, CheckTriggerConditions(fileWorkflow(map[string]any{"eventTypes": []any{1, 2}}), Event{"eventType": "created"}))
	assert.False(t, CheckTriggerConditions(fileWorkflow(map[string]any{"pathPatterns": []any{"[bad"}}), Event{"filePath": "/a/b"}))
	assert.False(t, CheckTriggerConditions(nil, Event{}))
}

func TestMatcher_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	matcher := NewMatcher(nil, m)

	wf := fileWorkflow(map[string]any{"fileExtensions": []any{"csv"}})
	matcher.Check(wf, Event{"filePath": "a.csv"})
	matcher.Check(wf, Event{"filePath": "a.txt"})
	matcher.Check(wf, Event{"filePath": "b.txt"})

	assert.Equal(t, 1.0, triggerCount(t, m, "true"))
	assert.Equal(t, 2.0, triggerCount(t, m, "false"))
}

func triggerCount(t *testing.T, m *metrics.Metrics, matched string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "autoflow_trigger_evaluations_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "matched" && l.GetValue() == matched {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
