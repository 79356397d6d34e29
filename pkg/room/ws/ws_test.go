package ws

import (
	"testing"

	"github.com/ckocel/voxtutor/pkg/types"
)

func TestToRoomRate(t *testing.T) {
	t.Run("stereo is averaged to mono", func(t *testing.T) {
		frame := types.AudioFrame{
			Data:       int16sToBytes([]int16{100, 300, -200, -400}),
			SampleRate: opusSampleRate,
			Channels:   2,
		}
		got := toRoomRate(frame)
		want := []int16{200, -300}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("sample[%d] = %d, want %d", i, got[i], want[i])
			}
		}
	})

	t.Run("24k input doubles in length", func(t *testing.T) {
		in := make([]int16, 240)
		for i := range in {
			in[i] = int16(i)
		}
		frame := types.AudioFrame{
			Data:       int16sToBytes(in),
			SampleRate: 24000,
			Channels:   1,
		}
		got := toRoomRate(frame)
		if len(got) != 480 {
			t.Fatalf("len = %d, want 480", len(got))
		}
		// Interpolated midpoints sit between their neighbours.
		if got[0] != 0 {
			t.Errorf("first sample = %d, want 0", got[0])
		}
		if got[2] != in[1] {
			t.Errorf("sample[2] = %d, want %d", got[2], in[1])
		}
	})

	t.Run("native rate passes through", func(t *testing.T) {
		in := []int16{1, 2, 3, 4}
		frame := types.AudioFrame{
			Data:       int16sToBytes(in),
			SampleRate: opusSampleRate,
			Channels:   1,
		}
		got := toRoomRate(frame)
		if len(got) != len(in) {
			t.Fatalf("len = %d, want %d", len(got), len(in))
		}
		for i := range in {
			if got[i] != in[i] {
				t.Errorf("sample[%d] = %d, want %d", i, got[i], in[i])
			}
		}
	})
}
