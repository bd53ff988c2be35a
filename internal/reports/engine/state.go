package engine

import "carbon-scribe/report-engine/pkg/workflows"

// State is a stage of one generation
type State string

const (
	StateLoaded           State = "LOADED"
	StateAuthorized       State = "AUTHORIZED"
	StateValidated        State = "VALIDATED"
	StateCacheHit         State = "CACHE_HIT"
	StateDataResolved     State = "DATA_RESOLVED"
	StateSectionsRendered State = "SECTIONS_RENDERED"
	StateExported         State = "EXPORTED"
	StateDone             State = "DONE"

	StateConfigFailed      State = "CONFIG_FAILED"
	StatePermissionFailed  State = "PERMISSION_FAILED"
	StateParamFailed       State = "PARAM_FAILED"
	StateFormatUnsupported State = "FORMAT_UNSUPPORTED"
	StateResolveFailed     State = "RESOLVE_FAILED"
	StateRenderFailed      State = "RENDER_FAILED"
)

// generationFlow lists the stage order of Generate, starting from the
// empty state
var generationFlow = workflows.NewStateMachine("", map[string][]string{
	"":                            {string(StateLoaded), string(StateConfigFailed)},
	string(StateLoaded):           {string(StateAuthorized), string(StatePermissionFailed)},
	string(StateAuthorized):       {string(StateValidated), string(StateParamFailed)},
	string(StateValidated):        {string(StateCacheHit), string(StateDataResolved), string(StateResolveFailed)},
	string(StateCacheHit):         {string(StateDone)},
	string(StateDataResolved):     {string(StateSectionsRendered), string(StateRenderFailed)},
	string(StateSectionsRendered): {string(StateExported), string(StateFormatUnsupported), string(StateRenderFailed)},
	string(StateExported):         {string(StateDone)},
})

// path records the states one generation passed through
type path []State

func (p path) last() State {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (p path) strings() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = string(s)
	}
	return out
}

// validate checks p against generationFlow
func (p path) validate() error {
	return generationFlow.ValidatePath(p.strings())
}

// Terminal reports whether no further stage follows s
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateCacheHit, StateConfigFailed, StatePermissionFailed, StateParamFailed,
		StateFormatUnsupported, StateResolveFailed, StateRenderFailed:
		return true
	}
	return false
}

// Failed reports whether s is a terminal failure
func (s State) Failed() bool {
	return s.Terminal() && s != StateDone && s != StateCacheHit
}
