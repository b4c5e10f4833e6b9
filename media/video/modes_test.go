package video

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/mediaflow/types"
)

var allCapabilities = map[string]Capabilities{
	ProviderVidu:     viduCapabilities,
	ProviderKling:    klingCapabilities,
	ProviderSeedance: seedanceCapabilities,
	ProviderRunway:   runwayCapabilities,
}

func TestInferMode(t *testing.T) {
	full := Capabilities{Modes: []VideoMode{ModeText2Video, ModeImg2Video, ModeStartEnd2Video, ModeReference2Video}}
	single := full
	single.SingleImageReference = true
	noRef := Capabilities{Modes: []VideoMode{ModeText2Video, ModeImg2Video, ModeStartEnd2Video}}
	imgOnly := Capabilities{Modes: []VideoMode{ModeText2Video, ModeImg2Video}}

	tests := []struct {
		name      string
		n         int
		hasPrompt bool
		caps      Capabilities
		want      VideoMode
	}{
		{"no images", 0, true, full, ModeText2Video},
		{"no images no prompt", 0, false, full, ModeText2Video},
		{"one image", 1, true, full, ModeImg2Video},
		{"one image single reference", 1, true, single, ModeReference2Video},
		{"one image single reference no prompt", 1, false, single, ModeImg2Video},
		{"two images with prompt", 2, true, full, ModeReference2Video},
		{"two images without prompt", 2, false, full, ModeStartEnd2Video},
		{"two images no reference support", 2, true, noRef, ModeStartEnd2Video},
		{"two images image only", 2, true, imgOnly, ModeImg2Video},
		{"three images", 3, false, full, ModeReference2Video},
		{"three images no reference support", 3, true, noRef, ModeImg2Video},
		{"seven images", 7, true, full, ModeReference2Video},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferMode(tt.n, tt.hasPrompt, tt.caps))
		})
	}
}

func TestPlanRequest_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerationRequest
		caps    Capabilities
		want    VideoMode
		wantErr string
	}{
		{
			name: "text prompt",
			req:  GenerationRequest{Prompt: "a cat"},
			caps: viduCapabilities,
			want: ModeText2Video,
		},
		{
			name:    "text without prompt",
			req:     GenerationRequest{Prompt: "   "},
			caps:    viduCapabilities,
			wantErr: "prompt is required",
		},
		{
			name: "single image without prompt",
			req:  GenerationRequest{ReferenceImages: []string{"https://a/1.png"}},
			caps: viduCapabilities,
			want: ModeImg2Video,
		},
		{
			name:    "too many images",
			req:     GenerationRequest{Prompt: "x", ReferenceImages: make8Images()},
			caps:    viduCapabilities,
			wantErr: "at most 7",
		},
		{
			name:    "empty image entry",
			req:     GenerationRequest{Prompt: "x", ReferenceImages: []string{"https://a/1.png", " "}},
			caps:    viduCapabilities,
			wantErr: "reference_images[1] is empty",
		},
		{
			name:    "reference over vendor limit",
			req:     GenerationRequest{Prompt: "x", ReferenceImages: []string{"a", "b", "c", "d", "e"}},
			caps:    klingCapabilities,
			wantErr: "at most 4 reference images",
		},
		{
			name:    "first last over vendor limit",
			req:     GenerationRequest{Prompt: "x", ReferenceImages: []string{"a", "b", "c"}},
			caps:    runwayCapabilities,
			wantErr: "at most 2 reference images",
		},
		{
			name:    "explicit image mode over vendor limit",
			req:     GenerationRequest{VideoMode: ModeImg2Video, ReferenceImages: []string{"a", "b", "c", "d", "e", "f", "g"}},
			caps:    runwayCapabilities,
			wantErr: "at most 2 reference images",
		},
		{
			name:    "explicit reference without prompt",
			req:     GenerationRequest{VideoMode: ModeReference2Video, ReferenceImages: []string{"a"}},
			caps:    viduCapabilities,
			wantErr: "prompt is required for reference mode",
		},
		{
			name:    "explicit start end with one image",
			req:     GenerationRequest{VideoMode: ModeStartEnd2Video, ReferenceImages: []string{"a"}},
			caps:    viduCapabilities,
			wantErr: "two reference images",
		},
		{
			name:    "explicit unsupported mode",
			req:     GenerationRequest{VideoMode: ModeReference2Video, Prompt: "x", ReferenceImages: []string{"a"}},
			caps:    runwayCapabilities,
			wantErr: "not supported",
		},
		{
			name:    "unknown mode",
			req:     GenerationRequest{VideoMode: "storyboard", Prompt: "x"},
			caps:    viduCapabilities,
			wantErr: "unknown video_mode",
		},
		{
			name: "explicit override wins",
			req:  GenerationRequest{VideoMode: ModeImg2Video, Prompt: "x", ReferenceImages: []string{"a", "b"}},
			caps: viduCapabilities,
			want: ModeImg2Video,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := PlanRequest(&tt.req, tt.caps)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}
}

func make8Images() []string {
	imgs := make([]string, 8)
	for i := range imgs {
		imgs[i] = "https://img.example/" + strings.Repeat("x", i+1)
	}
	return imgs
}

func TestModeTable_CoversEveryCount(t *testing.T) {
	for name, caps := range allCapabilities {
		t.Run(name, func(t *testing.T) {
			table := ModeTable(caps)
			require.Len(t, table, 2*(MaxReferenceImages+1))
			for _, rule := range table {
				assert.True(t, caps.Supports(rule.Mode), "mode %s for %d images", rule.Mode, rule.Images)
			}
		})
	}
}

// TestProperty_InferMode_TotalAndDeterministic: for every vendor and every
// (image count, prompt) pair, inference yields one supported mode and the
// same mode on every call.
func TestProperty_InferMode_TotalAndDeterministic(t *testing.T) {
	names := []string{ProviderVidu, ProviderKling, ProviderSeedance, ProviderRunway}
	rapid.Check(t, func(rt *rapid.T) {
		caps := allCapabilities[rapid.SampledFrom(names).Draw(rt, "provider")]
		n := rapid.IntRange(0, MaxReferenceImages).Draw(rt, "images")
		hasPrompt := rapid.Bool().Draw(rt, "hasPrompt")

		first := InferMode(n, hasPrompt, caps)
		require.True(rt, first.Valid())
		require.True(rt, caps.Supports(first))
		require.Equal(rt, first, InferMode(n, hasPrompt, caps))

		if n == 0 {
			require.Equal(rt, ModeText2Video, first)
		}
	})
}

func TestClampDuration(t *testing.T) {
	assert.Equal(t, 5, clampDuration(0, viduCapabilities))
	assert.Equal(t, 1, clampDuration(1, viduCapabilities))
	assert.Equal(t, 8, clampDuration(30, viduCapabilities))
	assert.Equal(t, 3, clampDuration(1, seedanceCapabilities))
	assert.Equal(t, 12, clampDuration(20, seedanceCapabilities))
	assert.Equal(t, 2, clampDuration(1, runwayCapabilities))
	assert.Equal(t, "5", klingDuration(0))
	assert.Equal(t, "5", klingDuration(6))
	assert.Equal(t, "10", klingDuration(9))
	assert.Equal(t, "10", klingDuration(60))
}

func TestTaskStatusNormalize(t *testing.T) {
	s := (&TaskStatus{TaskID: "t", State: StateSucceeded}).Normalize()
	assert.Equal(t, StateProcessing, s.State)

	s = (&TaskStatus{TaskID: "t", State: StateFailed, VideoURL: "https://x", Error: "boom"}).Normalize()
	assert.Empty(t, s.VideoURL)
	assert.Equal(t, "boom", s.Error)

	s = (&TaskStatus{TaskID: "t", State: StateQueued, Error: "stale"}).Normalize()
	assert.Empty(t, s.Error)

	assert.Equal(t, "kling-o1-abc", (&TaskStatus{TaskID: "abc", Family: FamilyKlingO1}).CacheKey(ProviderKling))
	assert.Equal(t, "vidu-abc", (&TaskStatus{TaskID: "abc"}).CacheKey(ProviderVidu))
}
