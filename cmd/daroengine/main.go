// daroengine exports the engine as a C shared library.
//
//	go build -buildmode=c-shared -o libdaroengine.so ./cmd/daroengine
//
// Daro_Create returns an opaque handle passed to every other call. A process
// is expected to create one engine; handles must not be used after
// Daro_Destroy.
package main

/*
#include <stdbool.h>
#include <stdint.h>
*/
import "C"

import (
	"runtime/cgo"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/config"
	"github.com/Faultbox/daro-engine/internal/engine"
	"github.com/Faultbox/daro-engine/internal/logger"
	"github.com/Faultbox/daro-engine/pkg/layer"
)

var logOnce sync.Once

func initLogger(cfg *config.Config) {
	logOnce.Do(func() {
		fileCfg := logger.FileConfig{}
		if cfg.Logging.LogFile != "" {
			fileCfg = logger.DefaultFileConfig(cfg.Logging.LogFile)
			fileCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
			fileCfg.MaxBackups = cfg.Logging.MaxBackups
			fileCfg.MaxAgeDays = cfg.Logging.MaxAgeDays
		}
		// The host owns the terminal: log to the file only.
		_ = logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, false)
	})
}

func get(h C.uintptr_t) *engine.Engine {
	if h == 0 {
		return nil
	}
	e, _ := cgo.Handle(h).Value().(*engine.Engine)
	return e
}

//export Daro_Create
func Daro_Create(configPath *C.char) C.uintptr_t {
	var path string
	if configPath != nil {
		path = C.GoString(configPath)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		initLogger(config.Default())
		logger.Error("engine config rejected", zap.String("path", path), zap.Error(err))
		return 0
	}
	initLogger(cfg)
	return C.uintptr_t(cgo.NewHandle(engine.New(cfg, logger.Log)))
}

//export Daro_Destroy
func Daro_Destroy(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.Shutdown()
		cgo.Handle(h).Delete()
	}
	logger.Sync()
}

//export Daro_Initialize
func Daro_Initialize(h C.uintptr_t, width, height C.int, targetFps C.double) C.int {
	e := get(h)
	if e == nil {
		return C.int(engine.ErrCreateDevice)
	}
	return C.int(e.Initialize(int(width), int(height), float64(targetFps)))
}

//export Daro_Shutdown
func Daro_Shutdown(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.Shutdown()
	}
}

//export Daro_IsInitialized
func Daro_IsInitialized(h C.uintptr_t) C.bool {
	e := get(h)
	return C.bool(e != nil && e.IsInitialized())
}

//export Daro_GetLastError
func Daro_GetLastError(h C.uintptr_t) C.int {
	if e := get(h); e != nil {
		return C.int(e.LastError())
	}
	return 0
}

//export Daro_BeginFrame
func Daro_BeginFrame(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.BeginFrame()
	}
}

//export Daro_Render
func Daro_Render(h C.uintptr_t) {
	if e := get(h); e != nil {
		_ = e.Render()
	}
}

//export Daro_Present
func Daro_Present(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.Present()
	}
}

//export Daro_EndFrame
func Daro_EndFrame(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.EndFrame()
	}
}

//export Daro_StartLoop
func Daro_StartLoop(h C.uintptr_t) C.bool {
	e := get(h)
	return C.bool(e != nil && e.StartLoop() == nil)
}

//export Daro_StopLoop
func Daro_StopLoop(h C.uintptr_t) {
	if e := get(h); e != nil {
		_ = e.StopLoop()
	}
}

//export Daro_LockFrameBuffer
func Daro_LockFrameBuffer(h C.uintptr_t, data *unsafe.Pointer, width, height, stride *C.int) C.bool {
	e := get(h)
	if e == nil {
		return false
	}
	f, ok := e.LockFrameBuffer()
	if !ok || len(f.Pix) == 0 {
		return false
	}
	// The pixels live in the shared mapping, outside the Go heap.
	if data != nil {
		*data = unsafe.Pointer(&f.Pix[0])
	}
	if width != nil {
		*width = C.int(f.Width)
	}
	if height != nil {
		*height = C.int(f.Height)
	}
	if stride != nil {
		*stride = C.int(f.Stride)
	}
	return true
}

//export Daro_UnlockFrameBuffer
func Daro_UnlockFrameBuffer(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.UnlockFrameBuffer()
	}
}

//export Daro_GetFrameNumber
func Daro_GetFrameNumber(h C.uintptr_t) C.longlong {
	if e := get(h); e != nil {
		return C.longlong(e.FrameNumber())
	}
	return 0
}

//export Daro_SetLayerCount
func Daro_SetLayerCount(h C.uintptr_t, count C.int) {
	if e := get(h); e != nil {
		e.SetLayerCount(int(count))
	}
}

// record views a caller-owned layer record.
func record(p unsafe.Pointer) []byte {
	return unsafe.Slice((*byte)(p), layer.RecordSize)
}

//export Daro_UpdateLayer
func Daro_UpdateLayer(h C.uintptr_t, index C.int, rec unsafe.Pointer) {
	if e := get(h); e != nil && rec != nil {
		if err := e.UpdateLayerRecord(int(index), record(rec)); err != nil {
			logger.Debug("layer update rejected", zap.Int("index", int(index)), zap.Error(err))
		}
	}
}

//export Daro_GetLayer
func Daro_GetLayer(h C.uintptr_t, index C.int, rec unsafe.Pointer) {
	if e := get(h); e != nil && rec != nil {
		_ = e.GetLayerRecord(int(index), record(rec))
	}
}

//export Daro_ClearLayers
func Daro_ClearLayers(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.ClearLayers()
	}
}

//export Daro_Play
func Daro_Play(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.Play()
	}
}

//export Daro_Stop
func Daro_Stop(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.Stop()
	}
}

//export Daro_SeekToFrame
func Daro_SeekToFrame(h C.uintptr_t, frame C.int) {
	if e := get(h); e != nil {
		e.SeekToFrame(int(frame))
	}
}

//export Daro_SeekToTime
func Daro_SeekToTime(h C.uintptr_t, seconds C.float) {
	if e := get(h); e != nil {
		e.SeekToTime(float64(seconds))
	}
}

//export Daro_SetTotalFrames
func Daro_SetTotalFrames(h C.uintptr_t, total C.int) {
	if e := get(h); e != nil {
		e.SetTotalFrames(int(total))
	}
}

//export Daro_IsPlaying
func Daro_IsPlaying(h C.uintptr_t) C.bool {
	e := get(h)
	return C.bool(e != nil && e.IsPlaying())
}

//export Daro_GetCurrentFrame
func Daro_GetCurrentFrame(h C.uintptr_t) C.int {
	if e := get(h); e != nil {
		return C.int(e.CurrentFrame())
	}
	return 0
}

//export Daro_GetFPS
func Daro_GetFPS(h C.uintptr_t) C.double {
	if e := get(h); e != nil {
		return C.double(e.Stats().FPS)
	}
	return 0
}

//export Daro_GetFrameTime
func Daro_GetFrameTime(h C.uintptr_t) C.double {
	if e := get(h); e != nil {
		return C.double(e.Stats().FrameTimeMs)
	}
	return 0
}

//export Daro_GetDroppedFrames
func Daro_GetDroppedFrames(h C.uintptr_t) C.int {
	if e := get(h); e != nil {
		return C.int(e.Stats().DroppedFrames)
	}
	return 0
}

//export Daro_EnableSpoutOutput
func Daro_EnableSpoutOutput(h C.uintptr_t, senderName *C.char) C.bool {
	e := get(h)
	if e == nil {
		return false
	}
	var name string
	if senderName != nil {
		name = C.GoString(senderName)
	}
	return C.bool(e.EnableSpoutOutput(name))
}

//export Daro_DisableSpoutOutput
func Daro_DisableSpoutOutput(h C.uintptr_t) {
	if e := get(h); e != nil {
		e.DisableSpoutOutput()
	}
}

//export Daro_IsSpoutEnabled
func Daro_IsSpoutEnabled(h C.uintptr_t) C.bool {
	e := get(h)
	return C.bool(e != nil && e.IsSpoutEnabled())
}

//export Daro_LoadTexture
func Daro_LoadTexture(h C.uintptr_t, path *C.char) C.int {
	e := get(h)
	if e == nil || path == nil {
		return -1
	}
	return C.int(e.LoadTexture(C.GoString(path)))
}

//export Daro_UnloadTexture
func Daro_UnloadTexture(h C.uintptr_t, id C.int) {
	if e := get(h); e != nil {
		e.UnloadTexture(int32(id))
	}
}

//export Daro_GetSpoutSenderCount
func Daro_GetSpoutSenderCount(h C.uintptr_t) C.int {
	if e := get(h); e != nil {
		return C.int(e.SpoutSenderCount())
	}
	return 0
}

//export Daro_GetSpoutSenderName
func Daro_GetSpoutSenderName(h C.uintptr_t, index C.int, buf *C.char, size C.int) C.bool {
	e := get(h)
	if e == nil || buf == nil || size <= 0 {
		return false
	}
	name, ok := e.SpoutSenderName(int(index))
	if !ok {
		return false
	}
	copyCString(unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(size)), name)
	return true
}

// copyCString copies s into dst, truncating and NUL terminating.
func copyCString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
}

//export Daro_ConnectSpoutReceiver
func Daro_ConnectSpoutReceiver(h C.uintptr_t, senderName *C.char) C.int {
	e := get(h)
	if e == nil || senderName == nil {
		return -1
	}
	return C.int(e.ConnectSpoutReceiver(C.GoString(senderName)))
}

//export Daro_DisconnectSpoutReceiver
func Daro_DisconnectSpoutReceiver(h C.uintptr_t, id C.int) {
	if e := get(h); e != nil {
		e.DisconnectSpoutReceiver(int32(id))
	}
}

//export Daro_GetStructSize
func Daro_GetStructSize() C.int { return layer.RecordSize }

//export Daro_GetOffsetPosX
func Daro_GetOffsetPosX() C.int { return layer.OffsetPosX }

//export Daro_GetOffsetSizeX
func Daro_GetOffsetSizeX() C.int { return layer.OffsetSizeX }

//export Daro_GetOffsetOpacity
func Daro_GetOffsetOpacity() C.int { return layer.OffsetOpacity }

//export Daro_GetOffsetTextContent
func Daro_GetOffsetTextContent() C.int { return layer.OffsetText }

// Daro_GetFieldOffset returns the offset of any record field by name, or -1.
//
//export Daro_GetFieldOffset
func Daro_GetFieldOffset(name *C.char) C.int {
	if name == nil {
		return -1
	}
	if off, ok := layer.Offsets()[C.GoString(name)]; ok {
		return C.int(off)
	}
	return -1
}

//export Daro_SetShowBounds
func Daro_SetShowBounds(h C.uintptr_t, show C.bool) {
	if e := get(h); e != nil {
		e.SetShowBounds(bool(show))
	}
}

//export Daro_IsDeviceLost
func Daro_IsDeviceLost(h C.uintptr_t) C.bool {
	e := get(h)
	return C.bool(e != nil && e.IsDeviceLost())
}

//export Daro_SetEdgeSmoothing
func Daro_SetEdgeSmoothing(h C.uintptr_t, width C.float) {
	if e := get(h); e != nil {
		e.SetEdgeSmoothing(float32(width))
	}
}

//export Daro_GetEdgeSmoothing
func Daro_GetEdgeSmoothing(h C.uintptr_t) C.float {
	if e := get(h); e != nil {
		return C.float(e.EdgeSmoothing())
	}
	return 0
}

//export Daro_LoadVideo
func Daro_LoadVideo(h C.uintptr_t, path *C.char) C.int {
	e := get(h)
	if e == nil || path == nil {
		return 0
	}
	return C.int(e.LoadVideo(C.GoString(path)))
}

//export Daro_UnloadVideo
func Daro_UnloadVideo(h C.uintptr_t, id C.int) {
	if e := get(h); e != nil {
		e.UnloadVideo(int32(id))
	}
}

//export Daro_PlayVideo
func Daro_PlayVideo(h C.uintptr_t, id C.int) {
	if e := get(h); e != nil {
		e.PlayVideo(int32(id))
	}
}

//export Daro_PauseVideo
func Daro_PauseVideo(h C.uintptr_t, id C.int) {
	if e := get(h); e != nil {
		e.PauseVideo(int32(id))
	}
}

//export Daro_StopVideo
func Daro_StopVideo(h C.uintptr_t, id C.int) {
	if e := get(h); e != nil {
		e.StopVideo(int32(id))
	}
}

//export Daro_SeekVideo
func Daro_SeekVideo(h C.uintptr_t, id, frame C.int) {
	if e := get(h); e != nil {
		e.SeekVideo(int32(id), int(frame))
	}
}

//export Daro_SeekVideoTime
func Daro_SeekVideoTime(h C.uintptr_t, id C.int, seconds C.double) {
	if e := get(h); e != nil {
		e.SeekVideoTime(int32(id), float64(seconds))
	}
}

//export Daro_IsVideoPlaying
func Daro_IsVideoPlaying(h C.uintptr_t, id C.int) C.bool {
	e := get(h)
	return C.bool(e != nil && e.IsVideoPlaying(int32(id)))
}

//export Daro_GetVideoFrame
func Daro_GetVideoFrame(h C.uintptr_t, id C.int) C.int {
	if e := get(h); e != nil {
		return C.int(e.VideoFrame(int32(id)))
	}
	return 0
}

//export Daro_GetVideoTotalFrames
func Daro_GetVideoTotalFrames(h C.uintptr_t, id C.int) C.int {
	if e := get(h); e != nil {
		return C.int(e.VideoTotalFrames(int32(id)))
	}
	return 0
}

//export Daro_SetVideoLoop
func Daro_SetVideoLoop(h C.uintptr_t, id C.int, loop C.bool) {
	if e := get(h); e != nil {
		e.SetVideoLoop(int32(id), bool(loop))
	}
}

//export Daro_SetVideoAlpha
func Daro_SetVideoAlpha(h C.uintptr_t, id C.int, alpha C.bool) {
	if e := get(h); e != nil {
		e.SetVideoAlpha(int32(id), bool(alpha))
	}
}

func main() {}
