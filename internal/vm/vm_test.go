package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstScriptedFile_SkipsNativeFrames(t *testing.T) {
	frames := []Frame{
		{FunctionName: "native_helper", File: "<native>", Scripted: false},
		{FunctionName: "main", File: "main.sp", Scripted: true},
		{FunctionName: "caller", File: "caller.sp", Scripted: true},
	}
	assert.Equal(t, "main.sp", FirstScriptedFile(frames))
}

func TestFirstScriptedFile_AllNativeReturnsEmpty(t *testing.T) {
	frames := []Frame{
		{FunctionName: "a", File: "<native>", Scripted: false},
		{FunctionName: "b", File: "<native>", Scripted: false},
	}
	assert.Equal(t, "", FirstScriptedFile(frames))
}

func TestFirstScriptedFile_EmptyFrames(t *testing.T) {
	assert.Equal(t, "", FirstScriptedFile(nil))
}
