package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/job"
)

type refreshPayload struct {
	Upstream string `json:"upstream"`
	Batch    int    `json:"batch"`
}

func TestRegisterDefinition_HandlerDecodesPayload(t *testing.T) {
	reg := job.NewRegistry()
	var got refreshPayload
	job.RegisterDefinition(reg, job.NewDefinition("price-refresh",
		func(_ context.Context, p refreshPayload, _ job.Progress) (any, error) {
			got = p
			return nil, nil
		},
	))

	h, ok := reg.Get("price-refresh")
	if !ok {
		t.Fatal("handler not registered")
	}

	raw, _ := json.Marshal(refreshPayload{Upstream: "scryfall", Batch: 40})
	if _, err := h(context.Background(), raw, func(int) {}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got.Upstream != "scryfall" || got.Batch != 40 {
		t.Errorf("decoded payload = %+v", got)
	}
}

func TestRegisterDefinition_ResultIsMarshalled(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("report",
		func(_ context.Context, _ struct{}, _ job.Progress) (any, error) {
			return map[string]int{"rows": 12}, nil
		},
	))

	h, _ := reg.Get("report")
	result, err := h(context.Background(), nil, func(int) {})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if decoded["rows"] != 12 {
		t.Errorf("result = %v", decoded)
	}
}

func TestValidate_AcceptsRegisteredShape(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("price-refresh",
		func(_ context.Context, _ refreshPayload, _ job.Progress) (any, error) { return nil, nil },
	))

	raw, _ := json.Marshal(refreshPayload{Upstream: "scryfall"})
	if err := reg.Validate("price-refresh", raw); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestValidate_RejectsUnknownFields(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("price-refresh",
		func(_ context.Context, _ refreshPayload, _ job.Progress) (any, error) { return nil, nil },
	))

	err := reg.Validate("price-refresh", []byte(`{"upstream":"x","bogus":true}`))
	if !errors.Is(err, pulse.ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestValidate_UnknownName(t *testing.T) {
	reg := job.NewRegistry()
	err := reg.Validate("no-such-job", nil)
	if !errors.Is(err, pulse.ErrUnknownJobName) {
		t.Errorf("err = %v, want ErrUnknownJobName", err)
	}
}

func TestDefaults_ReturnsRegisteredOptions(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("bulk-import",
		func(_ context.Context, _ struct{}, _ job.Progress) (any, error) { return nil, nil },
		job.WithQueue("imports"),
		job.WithMaxAttempts(5),
		job.WithPriority(2),
	))

	opts, ok := reg.Defaults("bulk-import")
	if !ok {
		t.Fatal("defaults not found")
	}
	if opts.Queue != "imports" || opts.MaxAttempts != 5 || opts.Priority != 2 {
		t.Errorf("defaults = %+v", opts)
	}
}
