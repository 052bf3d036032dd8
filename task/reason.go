package task

// Reason records why a task entered its current state. Values are persisted
// and new reasons are only ever appended.
type Reason uint8

const (
	ReasonDefault Reason = iota
	ReasonTaskSurvivalOneMonth
	ReasonWaitingNetworkOneDay
	ReasonStoppedNewFrontTask
	ReasonRunningTaskMeetLimits
	ReasonUserOperation
	ReasonAppBackgroundOrTerminate
	ReasonNetworkOffline
	ReasonUnsupportedNetworkType
	ReasonBuildClientFailed
	ReasonBuildRequestFailed
	ReasonGetFileSizeFailed
	ReasonContinuousTaskTimeout
	ReasonConnectError
	ReasonRequestError
	ReasonUploadFileError
	ReasonRedirectError
	ReasonProtocolError
	ReasonIoError
	ReasonUnsupportedRangeRequest
	ReasonOthersError
	ReasonAccountStopped
	ReasonNetworkChanged
	ReasonDNS
	ReasonTCP
	ReasonSSL
	ReasonInsufficientSpace
)

var reasonNames = [...]string{
	"default",
	"task survival one month",
	"waiting network one day",
	"stopped by new frontend task",
	"running task meet limits",
	"user operation",
	"app background or terminate",
	"network offline",
	"unsupported network type",
	"build client failed",
	"build request failed",
	"get file size failed",
	"continuous task timeout",
	"connect error",
	"request error",
	"upload file error",
	"redirect error",
	"protocol error",
	"io error",
	"unsupported range request",
	"others error",
	"account stopped",
	"network changed",
	"dns error",
	"tcp error",
	"ssl error",
	"insufficient space",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}
