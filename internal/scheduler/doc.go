// Package scheduler запускает повторяющиеся (self-rescheduling) задачи.
//
// Каждая Job после выполнения сама сообщает время следующего запуска
// (Job.Next), поэтому интервал можно менять на лету через JobContext.
//
// Структура:
//   - scheduler.go — Scheduler (Add, Run, RunOnce) и Gate
//   - cron.go      — парсинг cron-выражений и ISO-8601 интервалов
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Gate:   lock,   // опционально: repo.AdvisoryLock
//	    Logger: logger,
//	})
//	sched.Add(job, map[string]string{"interval": "PT10S"})
//
//	// Блокируется до отмены ctx
//	sched.Run(ctx)
//
// Leader Election:
//
// Gate проверяется перед каждым выполнением: не-лидер пропускает
// выполнение, но продолжает планировать следующие. В longrest-monitor
// Gate — это pg_try_advisory_lock.
package scheduler
