package raystack

import (
	"errors"
	"fmt"
)

// Harness runs one reproduction end to end: build the scene, render a
// frame, write the image, tear everything down. The engine is supplied by
// the caller; the harness never touches process state and never exits.
type Harness struct {
	Engine Engine
	Config Config
	Label  string
	Log    Logger
}

// Run renders the scene and writes a PNG to outPath. All engine resources
// are released before Run returns, in reverse acquisition order, also when
// rendering or writing fails partway.
func (h *Harness) Run(outPath string) (err error) {
	log := h.Log
	if log == nil {
		log = NewNopLogger()
	}

	stack := NewResourceStack()
	defer func() {
		if cerr := stack.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	asm := NewSceneAssembler(h.Engine, stack, log)
	scene, err := asm.Build(h.Config)
	if err != nil {
		return fmt.Errorf("assemble scene: %w", err)
	}
	log.Debugf("scene assembled, %d resources on stack", stack.Len())

	variance, err := h.Engine.RenderFrameBlocking(scene.FrameBuffer, scene.Renderer, scene.Camera, scene.World)
	if err != nil {
		return foreignErr("RenderFrameBlocking", err)
	}
	log.Debugf("frame rendered, variance %g", variance)

	img, err := FrameImage(h.Engine, scene)
	if err != nil {
		return err
	}
	if h.Label != "" {
		StampLabel(img, h.Label)
	}

	n, err := WritePNG(outPath, img)
	if err != nil {
		return err
	}
	log.Infof("wrote %d bytes to %s", n, outPath)
	return nil
}
