package tasks

// DefineTasks registers all available tasks
func DefineTasks() {
	RegisterHandler(ReconcileTransactionsTask.TaskID(), ReconcileTransactionsTask.HandleExecution)
	RegisterHandler(ExpireStaleTransactionsTask.TaskID(), ExpireStaleTransactionsTask.HandleExecution)
}
