package domain

// SendJob 表示一个调度周期内待派发的发送任务。
//
// 由优先级加载器按周期构建，纯内存对象，派发完成后即销毁。
type SendJob struct {
	MailboxID        int64
	TenantID         string
	Address          string
	ReplyRatePercent int
	DayNumber        int
	DailyQuota       int
	SentToday        int
	Remaining        int
	Priority         float64
}
