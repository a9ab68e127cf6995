package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"edit_worker/codec"
)

// fakeImagesAPI serves the two endpoints the backend uses.
type fakeImagesAPI struct {
	modelStatus int
	editStatus  int
	result      image.Image
	rawResult   []byte // sent instead of result when set
	edits       atomic.Int32
	maskAlpha   atomic.Int32
}

func (f *fakeImagesAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/dall-e-2", func(w http.ResponseWriter, r *http.Request) {
		if f.modelStatus != 0 && f.modelStatus != http.StatusOK {
			writeAPIError(w, f.modelStatus, "model not found")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "dall-e-2", "object": "model"})
	})
	mux.HandleFunc("/v1/images/edits", func(w http.ResponseWriter, r *http.Request) {
		f.edits.Add(1)
		if f.editStatus != 0 && f.editStatus != http.StatusOK {
			writeAPIError(w, f.editStatus, "rate limited")
			return
		}
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("prompt") == "" || r.FormValue("response_format") != "b64_json" {
			t.Errorf("prompt = %q, response_format = %q", r.FormValue("prompt"), r.FormValue("response_format"))
		}
		if mf, _, err := r.FormFile("mask"); err == nil {
			mask, err := png.Decode(mf)
			if err == nil {
				_, _, _, a := mask.At(0, 0).RGBA()
				f.maskAlpha.Store(int32(a >> 8))
			}
			mf.Close()
		} else {
			t.Errorf("mask missing: %v", err)
		}

		var b64 string
		if f.rawResult != nil {
			b64 = base64.StdEncoding.EncodeToString(f.rawResult)
		} else {
			var err error
			if b64, err = codec.EncodeImage(f.result); err != nil {
				t.Errorf("encode result: %v", err)
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1,
			"data":    []map[string]string{{"b64_json": b64}},
		})
	})
	return mux
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error"},
	})
}

func newTestOpenAIBackend(t *testing.T, api *fakeImagesAPI) *OpenAIBackend {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	b, err := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, nil)
	if err != nil {
		t.Fatalf("NewOpenAIBackend() error = %v", err)
	}
	return b
}

func TestNewOpenAIBackend_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIBackend(OpenAIConfig{}, nil); err == nil {
		t.Error("NewOpenAIBackend() without key returned nil error")
	}
}

func TestOpenAIBackend_LoadUnreachableModel(t *testing.T) {
	b := newTestOpenAIBackend(t, &fakeImagesAPI{modelStatus: http.StatusNotFound})

	_, err := b.Load(context.Background(), DefaultLoadOptions())
	if !errors.Is(err, ErrWeightsUnreachable) {
		t.Fatalf("Load() error = %v, want ErrWeightsUnreachable", err)
	}
	if classifyLoadError(err) != ReasonWeightsUnreachable {
		t.Errorf("reason = %s", classifyLoadError(err))
	}
}

func TestOpenAIBackend_Edit(t *testing.T) {
	result := solidImage(16, 16, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	api := &fakeImagesAPI{result: result}
	b := newTestOpenAIBackend(t, api)

	inst, err := b.Load(context.Background(), DefaultLoadOptions())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	src := solidImage(16, 16, color.NRGBA{A: 255})
	mask := image.NewGray(src.Bounds()) // all editable
	images, err := inst.Edit(context.Background(), editParams(src, mask))
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("Edit() returned %d images, want 1", len(images))
	}
	if r, g, bl, _ := images[0].At(0, 0).RGBA(); r>>8 != 1 || g>>8 != 2 || bl>>8 != 3 {
		t.Errorf("result pixel = %v", images[0].At(0, 0))
	}
	if api.maskAlpha.Load() != 0 {
		t.Errorf("editable mask alpha = %d, want 0 (transparent)", api.maskAlpha.Load())
	}
}

func TestOpenAIBackend_EditFailure(t *testing.T) {
	b := newTestOpenAIBackend(t, &fakeImagesAPI{editStatus: http.StatusTooManyRequests})
	inst, err := b.Load(context.Background(), DefaultLoadOptions())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	src := solidImage(8, 8, color.NRGBA{A: 255})
	_, err = inst.Edit(context.Background(), editParams(src, image.NewGray(src.Bounds())))
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Edit() error = %v, want ErrGenerationFailed", err)
	}
}

func TestOpenAIBackend_EditRejectsNonPNGResult(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(8, 8, color.NRGBA{A: 255}), nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	b := newTestOpenAIBackend(t, &fakeImagesAPI{rawResult: buf.Bytes()})
	inst, err := b.Load(context.Background(), DefaultLoadOptions())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	src := solidImage(8, 8, color.NRGBA{A: 255})
	_, err = inst.Edit(context.Background(), editParams(src, image.NewGray(src.Bounds())))
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Edit() error = %v, want ErrGenerationFailed", err)
	}
	if !strings.Contains(err.Error(), codec.ErrNotPNG.Error()) {
		t.Errorf("Edit() error = %v, want it to mention %q", err, codec.ErrNotPNG)
	}
}

func TestAlphaMask(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 2, 1))
	mask.SetGray(1, 0, color.Gray{Y: 255})

	out := alphaMask(mask, image.Rect(0, 0, 2, 1))
	if out.NRGBAAt(0, 0).A != 0 {
		t.Errorf("editable alpha = %d, want 0", out.NRGBAAt(0, 0).A)
	}
	if out.NRGBAAt(1, 0).A != 255 {
		t.Errorf("kept alpha = %d, want 255", out.NRGBAAt(1, 0).A)
	}
}
