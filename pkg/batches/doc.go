// Package batches manages a list of items that is loaded incrementally, one
// batch at a time, from an asynchronous fetcher.
//
// A Source exposes four observable fields (items, loading flag, completion flag
// and last error) and reacts to two control signals: reload and load-next.
// Batches are addressed either by page number or by an opaque token; a source
// commits to one of the two when it is created.
//
// Basic usage:
//
//	src, err := batches.NewPaged(batches.DefaultConfig[Order]("orders"), 1,
//		func(ctx context.Context, page int) (batches.Batch[Order], error) {
//			orders, err := api.Orders(ctx, page)
//			if err != nil {
//				return batches.Batch[Order]{}, err
//			}
//			if len(orders) == 0 {
//				return batches.Completed[Order](), nil
//			}
//			return batches.Items(orders...), nil
//		})
//	if err != nil {
//		return err
//	}
//	defer src.Close()
//
//	src.SubscribeItems(render)
//	src.LoadNext()
//
// Requests are single-flight: while a fetch is outstanding, further requests
// queue behind it and the loading flag stays set until the queue drains.
// A reload resets the items immediately and supersedes whatever was fetched or
// queued before it; late results of superseded fetches are discarded.
//
// Fetch errors never escape Reload or LoadNext. They are published through the
// error field and cleared by the next successful fetch; nothing is retried.
package batches
