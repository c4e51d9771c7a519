// Package types provides core types shared across chatrelay.
// This package has ZERO dependencies on other chatrelay packages to avoid
// circular imports. All other packages should import types from here.
package types
