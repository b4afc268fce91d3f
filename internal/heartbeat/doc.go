// Package heartbeat следит за удалёнными сервисами, которые обещали
// присылать imAlive.
//
// Monitor периодически сканирует активные экземпляры процесса и, если
// с последнего heartbeat прошло больше heartbeatTimeout, отправляет
// процессу сигнал died. Супервизия опциональна: экземпляры без
// lastHeartbeat или heartbeatTimeout пропускаются.
//
// Job оборачивает Monitor в повторяющуюся задачу для scheduler.Scheduler.
package heartbeat
