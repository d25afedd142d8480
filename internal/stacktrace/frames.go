// internal/stacktrace/frames.go
package stacktrace

import (
	"regexp"
	"strconv"
	"strings"
)

// Frame is one JVM stack frame.
type Frame struct {
	// Namespace is the package part of the declaring type, e.g. "com.example.steps".
	Namespace string
	// TypeName is the simple declaring type, including nested-type segments
	// ("Outer$Inner").
	TypeName string
	Method   string
	FileName string
	// Line is UnknownLine when the frame carries no line number.
	Line int
}

// QualifiedType returns the dotted declaring type.
func (f Frame) QualifiedType() string {
	if f.Namespace == "" {
		return f.TypeName
	}
	return f.Namespace + "." + f.TypeName
}

// OuterType returns the top-level type for nested declaring types.
func (f Frame) OuterType() string {
	if i := strings.IndexByte(f.TypeName, '$'); i > 0 {
		return f.TypeName[:i]
	}
	return f.TypeName
}

var (
	// at [module/]com.example.steps.LoginSteps.clickLogin(LoginSteps.java:25)
	frameRegex = regexp.MustCompile(`^\s*(?:at\s+)?(?:[\w.\-]+(?:@[^/]*)?//?)?([\w$]+(?:\.[\w$]+)+)\.([\w$<>\-]+)\(([^():]*)(?::(\d+))?\)`)

	// at ✽.I click the login button(file:///repo/login.feature:12)
	gherkinFrameRegex = regexp.MustCompile(`✽\.(.+?)\(([^()]*\.feature)(?::(\d+))?\)`)
)

// ParseFrames extracts the JVM frames of trace in stack order. Lines that are
// not frames are skipped.
func ParseFrames(trace string) []Frame {
	var frames []Frame
	for _, line := range strings.Split(trace, "\n") {
		f, ok := ParseFrame(line)
		if ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// ParseFrame parses a single stack trace line.
func ParseFrame(line string) (Frame, bool) {
	m := frameRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return Frame{}, false
	}
	qualified := m[1]
	f := Frame{Method: m[2], FileName: m[3], Line: -1}
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		f.Namespace, f.TypeName = qualified[:i], qualified[i+1:]
	} else {
		f.TypeName = qualified
	}
	if m[4] != "" {
		if n, err := strconv.Atoi(m[4]); err == nil {
			f.Line = n
		}
	}
	return f, true
}

// gherkinFrame is a synthetic frame cucumber-jvm inserts for the step being
// executed.
type gherkinFrame struct {
	Text string
	Path string
	Line int
}

func findGherkinFrame(trace string) (gherkinFrame, bool) {
	for _, line := range strings.Split(trace, "\n") {
		m := gherkinFrameRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		g := gherkinFrame{Text: strings.TrimSpace(m[1]), Path: m[2], Line: -1}
		if m[3] != "" {
			if n, err := strconv.Atoi(m[3]); err == nil {
				g.Line = n
			}
		}
		if g.Text != "" {
			return g, true
		}
	}
	return gherkinFrame{}, false
}
