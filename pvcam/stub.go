//go:build !pvcam || !cgo

package pvcam

// Init initializes the PVCAM library
func Init() (Driver, error) {
	return nil, ErrNotBuilt
}
