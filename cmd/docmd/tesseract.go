//go:build tesseract

package main

import _ "github.com/dgallion1/docmd/internal/engine/tesseract"
