package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program images
// ---------------------------------------------------------------------------

// ImageMagic and ImageVersion identify a serialized program. The version
// changes whenever the instruction set table changes.
const (
	ImageMagic   = "EIRA"
	ImageVersion = 1
)

// ErrBadImage is wrapped by every UnmarshalImage failure.
var ErrBadImage = errors.New("bad program image")

// image is the persisted envelope of a Program. Chunk code is stored
// verbatim, so instruction sizes and little-endian operands survive as
// emitted.
type image struct {
	Magic   string   `cbor:"1,keyasint"`
	Version int      `cbor:"2,keyasint"`
	Program *Program `cbor:"3,keyasint"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// MarshalImage serializes prog to canonical CBOR.
func MarshalImage(prog *Program) ([]byte, error) {
	if prog == nil {
		return nil, fmt.Errorf("vm: marshal image: nil program")
	}
	return imageEncMode.Marshal(image{Magic: ImageMagic, Version: ImageVersion, Program: prog})
}

// UnmarshalImage deserializes and verifies a program image.
func UnmarshalImage(data []byte) (*Program, error) {
	var img image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadImage, img.Magic)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadImage, img.Version, ImageVersion)
	}
	if img.Program == nil {
		return nil, fmt.Errorf("%w: no program", ErrBadImage)
	}
	if err := img.Program.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return img.Program, nil
}
