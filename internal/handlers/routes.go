package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes attaches every API operation to the engine.
func (a *APIStore) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", a.GetHealth)

	r.GET("/sandbox/:projectID", a.GetSandbox)
	r.GET("/sandbox/:projectID/status", a.GetSandboxStatus)
	r.POST("/sandbox", a.PostSandbox)
	r.DELETE("/sandbox/:sandboxID", a.DeleteSandbox)

	r.POST("/fragment/restore", a.PostFragmentRestore)
	r.POST("/files/restore", a.PostFilesRestore)

	r.POST("/command/execute", a.PostCommandExecute)
	r.POST("/file/read", a.PostFileRead)
	r.POST("/file/write", a.PostFileWrite)
	r.POST("/files/list", a.PostFilesList)
	r.POST("/files/find", a.PostFilesFind)
	r.POST("/files/batch-write", a.PostFilesBatchWrite)

	r.POST("/snapshot/create", a.PostSnapshotCreate)
	r.POST("/snapshot/cleanup", a.PostSnapshotCleanup)
	r.DELETE("/snapshot/:imageID", a.DeleteSnapshot)

	r.POST("/build/validate", a.PostBuildValidate)
	r.POST("/deploy", a.PostDeploy)
}
