package workflow

import (
	"fmt"
	"slices"
)

type State string

const (
	StateInit                  State = "init"
	StateUnlocking             State = "unlocking"
	StateSaving                State = "saving"
	StateLoggingIn             State = "logging_in"
	StateEnteringCriteria      State = "entering_criteria"
	StateSelectingTarget       State = "selecting_target"
	StateAddingConstraint      State = "adding_constraint"
	StateExecuting             State = "executing"
	StateResolvingResultWindow State = "resolving_result_window"
	StateCountingResults       State = "counting_results"
	StateEmptyResult           State = "empty_result"
	StateDownloadingArtifact   State = "downloading_artifact"
	StateSwitchingView         State = "switching_view"
	StateCapturingScreenshot   State = "capturing_screenshot"
	StateExtractingRecords     State = "extracting_records"
	StateCleaningUp            State = "cleaning_up"
	StateDone                  State = "done"
	StateFailed                State = "failed"
)

// forward lists the happy-path edges. Fault edges are added in init.
var allowedTransitions = map[State]map[State]struct{}{
	StateInit:                  {StateUnlocking: {}},
	StateUnlocking:             {StateSaving: {}},
	StateSaving:                {StateLoggingIn: {}},
	StateLoggingIn:             {StateEnteringCriteria: {}},
	StateEnteringCriteria:      {StateSelectingTarget: {}},
	StateSelectingTarget:       {StateAddingConstraint: {}},
	StateAddingConstraint:      {StateExecuting: {}},
	StateExecuting:             {StateResolvingResultWindow: {}},
	StateResolvingResultWindow: {StateCountingResults: {}},
	StateCountingResults:       {StateEmptyResult: {}, StateDownloadingArtifact: {}},
	StateEmptyResult:           {StateCleaningUp: {}},
	StateDownloadingArtifact:   {StateSwitchingView: {}},
	StateSwitchingView:         {StateCapturingScreenshot: {}},
	StateCapturingScreenshot:   {StateExtractingRecords: {}},
	StateExtractingRecords:     {StateCleaningUp: {}},
	StateCleaningUp:            {StateDone: {}, StateFailed: {}},
	StateDone:                  {},
	StateFailed:                {},
}

func init() {
	for from, to := range allowedTransitions {
		if from.Terminal() {
			continue
		}
		// a fault in any step goes through cleanup before failing
		to[StateCleaningUp] = struct{}{}
		to[StateFailed] = struct{}{}
	}
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func ValidateState(s State) error {
	if _, ok := allowedTransitions[s]; !ok {
		return fmt.Errorf("invalid scan job state: %q", s)
	}
	return nil
}

func ValidateTransition(from, to State) error {
	if err := ValidateState(from); err != nil {
		return err
	}
	if err := ValidateState(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid scan job transition: %s -> %s", from, to)
	}
	return nil
}

// Target is one list to unlock and scan.
type Target struct {
	Key         string
	ResourceURL string
	Credential  string
	// Name overrides the list name read from the shared page title when
	// selecting the list in the scan workbench.
	Name string
}

// ScanResult is filled in once the job is terminal.
type ScanResult struct {
	CSVPath    string
	ImagePath  string
	StockCount int
	Symbols    []string
}

// ScanJob is the record the runner keeps per target.
type ScanJob struct {
	Target         Target
	State          State
	ChartlistTitle string
	Result         ScanResult
	// Err is the fault that failed the job.
	Err error
	// History lists every state the job entered, in order.
	History []State

	selectedOption string
	downloaded     string
}

func NewScanJob(t Target) *ScanJob {
	return &ScanJob{
		Target:  t,
		State:   StateInit,
		History: []State{StateInit},
		Result:  ScanResult{Symbols: []string{}},
	}
}

func (j *ScanJob) advance(to State) error {
	err := ValidateTransition(j.State, to)
	if err != nil {
		return err
	}
	j.State = to
	j.History = append(j.History, to)
	return nil
}

// Entered reports whether the job ever entered s.
func (j *ScanJob) Entered(s State) bool {
	return slices.Contains(j.History, s)
}

// TargetName is the list name used to pick the list in the workbench.
func (j *ScanJob) TargetName() string {
	if j.Target.Name != "" {
		return j.Target.Name
	}
	return j.ChartlistTitle
}
