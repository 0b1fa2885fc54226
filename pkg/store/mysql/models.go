package mysql

import "vpool/pkg/store/mysql/model"

type (
	Stage       = model.Stage
	WorkerEvent = model.WorkerEvent
	JSONMap     = model.JSONMap
)
