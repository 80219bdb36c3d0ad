package audio

import "runtime"

func defaultInputFormat() string {
	if runtime.GOOS == "darwin" {
		return "avfoundation"
	}
	return "pulse"
}

func defaultInputDevice() string {
	if runtime.GOOS == "darwin" {
		return ":0"
	}
	return "default"
}
